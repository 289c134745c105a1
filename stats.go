package ifsched

import (
	"encoding/json"
	"os"
	"path"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// QueueStats holds the counters a scheduler keeps for one of its queues.
// Not every discipline uses every counter.
type QueueStats struct {
	Priority        int     `json:"priority" yaml:"priority"`
	Enqueued        int     `json:"enqueued" yaml:"enqueued"`
	Dequeued        int     `json:"dequeued" yaml:"dequeued"`
	Dropped         int     `json:"dropped" yaml:"dropped"`
	DroppedAging    int     `json:"droppedaging" yaml:"droppedaging"`
	ServiceBytes    int     `json:"servicebytes" yaml:"servicebytes"`
	DequeueRequests int     `json:"dequeuerequests" yaml:"dequeuerequests"`
	MissedService   int     `json:"missedservice" yaml:"missedservice"`
	Suspended       int     `json:"suspended,omitempty" yaml:"suspended,omitempty"`
	GPSDequeues     int     `json:"gpsdequeues,omitempty" yaml:"gpsdequeues,omitempty"`
	LSSDequeues     int     `json:"lssdequeues,omitempty" yaml:"lssdequeues,omitempty"`
	MaxExtraDelay   float64 `json:"maxextradelay,omitempty" yaml:"maxextradelay,omitempty"`
	TotalExtraDelay float64 `json:"totalextradelay,omitempty" yaml:"totalextradelay,omitempty"`
}

// AvgExtraDelay is the mean delay imposed by CBQ suspensions of the queue
func (qs *QueueStats) AvgExtraDelay() float64 {
	if qs.Suspended == 0 {
		return 0.0
	}
	return qs.TotalExtraDelay / float64(qs.Suspended)
}

// countRetrieve updates the counters after op succeeded on pckt
func (qs *QueueStats) countRetrieve(op QueueOp, pckt *Packet) {
	switch op {
	case DequeuePacket:
		qs.Dequeued += 1
		qs.ServiceBytes += pckt.Size
	case DropPacket, DiscardPacket:
		qs.Dropped += 1
	case DropAgedPacket:
		qs.DroppedAging += 1
	}
}

// StatsReport gathers the statistics of one interface scheduler at the end of a run
type StatsReport struct {
	Name   string       `json:"name" yaml:"name"`
	Kind   string       `json:"kind" yaml:"kind"`
	Queues []QueueStats `json:"queues" yaml:"queues"`
}

// Finalize creates the StatsReport of a scheduler
func Finalize(name string, sched Scheduler) *StatsReport {
	return &StatsReport{Name: name, Kind: sched.Kind(), Queues: sched.Stats()}
}

// WriteToFile stores the StatsReport to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (sr *StatsReport) WriteToFile(filename string) error {
	return writeDescFile(filename, sr)
}

// writeDescFile serializes obj to json or yaml, chosen by the extension of filename
func writeDescFile(filename string, obj any) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(obj)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(obj, "", "\t")
	} else {
		return errors.Errorf("file %s must end in .yaml, .yml, or .json", filename)
	}

	if merr != nil {
		return errors.Wrapf(merr, "serializing %s", filename)
	}

	werr := os.WriteFile(filename, bytes, 0644)
	if werr != nil {
		return errors.Wrapf(werr, "writing %s", filename)
	}
	return nil
}
