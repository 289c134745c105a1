package ifsched

// trace.go keeps an optional record of the scheduling events at traced interfaces,
// written out as yaml or json at the end of a run.

import (
	"strconv"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// TraceInst is one stored trace record, its body serialized by the record's producer
type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// NameType names and describes a traced scheduler
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager gathers information about the scheduling decisions made
// at interfaces during a run
type TraceManager struct {
	// records are kept only when set
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// scheduler description by objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment, by object id
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  An inactive manager accepts every call and records nothing
func CreateTraceManager(ExpName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = ExpName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active is false for an inactive or nil manager
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddTrace stores a trace record under the object id
func (tm *TraceManager) AddTrace(vrt vrtime.Time, objID int, trace TraceInst) {
	if !tm.Active() {
		return
	}
	tm.Traces[objID] = append(tm.Traces[objID], trace)
}

// AddName describes the scheduler traced under id.  Reusing an id panics
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if tm.Active() {
		_, present := tm.NameByID[id]
		if present {
			panic("duplicated id in AddName")
		}
		tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// WriteToFile saves the manager as yaml or json, chosen by the extension of filename.
// Nothing is written by an inactive manager
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.Active() {
		return nil
	}
	return writeDescFile(filename, tm)
}

// SchedTrace records one scheduling event at an interface
type SchedTrace struct {
	Time     float64 `yaml:"time"`
	Ticks    int64   `yaml:"ticks"`
	Priority int64   `yaml:"priority"` // priority field of time-stamp
	ObjID    int     `yaml:"objid"`    // scheduler the event happened at
	Queue    int     `yaml:"queue"`    // priority of the queue involved
	PcktID   int     `yaml:"pcktid"`
	Op       string  `yaml:"op"` // "enqueue", "drop", "dequeue", "discard", "suspend", "wakeup", "force"
}

func (st *SchedTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*st)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// AddSchedTrace creates a record of the event using its calling arguments, and stores it
func AddSchedTrace(tm *TraceManager, now float64, objID int, queue int, pckt *Packet, op string) {
	if !tm.Active() {
		return
	}
	vrt := vrtime.SecondsToTime(now)
	st := new(SchedTrace)
	st.Time = vrt.Seconds()
	st.Ticks = vrt.Ticks()
	st.Priority = vrt.Pri()
	st.ObjID = objID
	st.Queue = queue
	st.Op = op
	if pckt != nil {
		st.PcktID = pckt.ID
	}

	traceTime := strconv.FormatFloat(now, 'f', -1, 64)
	trcInst := TraceInst{TraceTime: traceTime, TraceType: "sched", TraceStr: st.Serialize()}
	tm.AddTrace(vrt, objID, trcInst)
}
