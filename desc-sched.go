package ifsched

// desc-sched.go holds the serializable descriptions of interface schedulers,
// the run-time parameters that modify them, and the functions that build
// Schedulers from them.

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// DefaultQueueCapacity is the capacity in bytes given to a described queue that names none
const DefaultQueueCapacity int = 150000

// AnyMatch is the wildcard for the node and interface of a SchedParam and of a link-sharing line
const AnyMatch string = "ANY"

// QueueDesc describes one queue at an interface
type QueueDesc struct {
	Priority int     `json:"priority" yaml:"priority"`
	Weight   float64 `json:"weight" yaml:"weight"`
	Capacity int     `json:"capacity" yaml:"capacity"` // bytes
}

// CBQDesc holds the settings particular to a CBQ interface.  The link-sharing
// structure is given inline, in a file, or both (file lines follow the inline ones)
type CBQDesc struct {
	Guideline       string   `json:"guideline" yaml:"guideline"`
	TopLevel        int      `json:"toplevel" yaml:"toplevel"`
	General         string   `json:"general" yaml:"general"`
	FilterGain      int      `json:"filtergain,omitempty" yaml:"filtergain,omitempty"`
	MaxIdle         float64  `json:"maxidle,omitempty" yaml:"maxidle,omitempty"`
	MinIdle         float64  `json:"minidle,omitempty" yaml:"minidle,omitempty"`
	LinkSharing     []string `json:"linksharing" yaml:"linksharing"`
	LinkSharingFile string   `json:"linksharingfile,omitempty" yaml:"linksharingfile,omitempty"`
}

// TwoTierDesc names the disciplines of the two tiers of a composite scheduler
type TwoTierDesc struct {
	Boundary int    `json:"boundary" yaml:"boundary"`
	Low      string `json:"low" yaml:"low"`
	High     string `json:"high" yaml:"high"`
}

// IntrfcSchedDesc describes the scheduler at one interface
type IntrfcSchedDesc struct {
	Name       string       `json:"name" yaml:"name"`
	NodeID     int          `json:"nodeid" yaml:"nodeid"`
	IntrfcIdx  int          `json:"intrfcidx" yaml:"intrfcidx"`
	NumIntrfcs int          `json:"numintrfcs" yaml:"numintrfcs"`
	Scheduler  string       `json:"scheduler" yaml:"scheduler"`
	Bndwdth    float64      `json:"bndwdth" yaml:"bndwdth"` // Mbps
	Queues     []QueueDesc  `json:"queues" yaml:"queues"`
	CBQ        *CBQDesc     `json:"cbq,omitempty" yaml:"cbq,omitempty"`
	TwoTier    *TwoTierDesc `json:"twotier,omitempty" yaml:"twotier,omitempty"`
	Stats      bool         `json:"stats" yaml:"stats"`
	Trace      bool         `json:"trace" yaml:"trace"`
}

// CreateIntrfcSchedDesc is a constructor
func CreateIntrfcSchedDesc(name string, nodeID, intrfcIdx, numIntrfcs int, scheduler string, bndwdth float64) *IntrfcSchedDesc {
	isd := new(IntrfcSchedDesc)
	isd.Name = name
	isd.NodeID = nodeID
	isd.IntrfcIdx = intrfcIdx
	isd.NumIntrfcs = numIntrfcs
	isd.Scheduler = scheduler
	isd.Bndwdth = bndwdth
	isd.Queues = make([]QueueDesc, 0)
	return isd
}

// AddQueue appends a queue description
func (isd *IntrfcSchedDesc) AddQueue(priority int, weight float64, capacity int) {
	isd.Queues = append(isd.Queues, QueueDesc{Priority: priority, Weight: weight, Capacity: capacity})
}

// WriteToFile serializes the IntrfcSchedDesc and writes to the file whose name is given as an input argument.
// Extension of the file name selects whether serialization is to json or to yaml format.
func (isd *IntrfcSchedDesc) WriteToFile(filename string) error {
	return writeDescFile(filename, *isd)
}

// ReadIntrfcSchedDesc deserializes a slice of bytes into an IntrfcSchedDesc.  If the input arg of bytes
// is empty, the file whose name is given as an argument is read.
func ReadIntrfcSchedDesc(filename string, useYAML bool, dict []byte) (*IntrfcSchedDesc, error) {
	example := IntrfcSchedDesc{}
	err := readDescFile(filename, useYAML, dict, &example)
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// A SchedParam applies Value to the parameter Param of every interface it matches.
// Node and Intrfc are either an integer identity or "ANY"
type SchedParam struct {
	Node   string `json:"node" yaml:"node"`
	Intrfc string `json:"intrfc" yaml:"intrfc"`
	Param  string `json:"param" yaml:"param"`
	Value  string `json:"value" yaml:"value"`
}

// schedParamNames lists the parameters a SchedParam may set
var schedParamNames []string = []string{"scheduler", "bndwdth", "guideline", "toplevel", "general",
	"stats", "trace", "capacity"}

// scope orders parameters from the broadest to the narrowest: both wildcards,
// then a single wildcard, then a fully named interface
func (sp *SchedParam) scope() int {
	rtn := 0
	if sp.Node != AnyMatch {
		rtn += 1
	}
	if sp.Intrfc != AnyMatch {
		rtn += 1
	}
	return rtn
}

// matches is true if the parameter applies to the described interface
func (sp *SchedParam) matches(isd *IntrfcSchedDesc) bool {
	if sp.Node != AnyMatch {
		nodeID, err := strconv.Atoi(sp.Node)
		if err != nil || nodeID != isd.NodeID {
			return false
		}
	}
	if sp.Intrfc != AnyMatch {
		intrfcIdx, err := strconv.Atoi(sp.Intrfc)
		if err != nil || intrfcIdx != isd.IntrfcIdx {
			return false
		}
	}
	return true
}

// validateSchedParam checks the form of the match fields and the parameter name
func validateSchedParam(node, intrfc, param string) error {
	if node != AnyMatch {
		_, err := strconv.Atoi(node)
		if err != nil {
			return errors.Errorf("scheduler parameter node %q is neither %s nor an integer", node, AnyMatch)
		}
	}
	if intrfc != AnyMatch {
		_, err := strconv.Atoi(intrfc)
		if err != nil {
			return errors.Errorf("scheduler parameter interface %q is neither %s nor an integer", intrfc, AnyMatch)
		}
	}
	if !slices.Contains(schedParamNames, param) {
		return errors.Errorf("scheduler parameter %q not recognized, supported are %s", param,
			strings.Join(schedParamNames, ", "))
	}
	return nil
}

// reorderSchedParams puts the parameters in the order they are applied: broader
// scope first, so that the assignment to the most specific match is the one left standing.
// Within a scope the original order is kept, and exact duplicates are removed
func reorderSchedParams(pL []SchedParam) []SchedParam {
	rtn := slices.Clone(pL)
	slices.SortStableFunc(rtn, func(a, b SchedParam) int {
		return a.scope() - b.scope()
	})
	return slices.Compact(rtn)
}

// setParam applies one parameter value to the description
func (isd *IntrfcSchedDesc) setParam(param, value string) error {
	vs := stringToValueStruct(value)
	switch param {
	case "scheduler":
		known := []string{StrictPriorityType, RoundRobinType, WeightedRRType, WeightedFairType,
			SelfClockedFairType, CBQType, TwoTierType}
		if !slices.Contains(known, vs.stringValue) {
			return errors.Errorf("interface %s: unknown scheduler %q", isd.Name, value)
		}
		isd.Scheduler = vs.stringValue
	case "bndwdth":
		if vs.floatValue <= 0.0 {
			return errors.Errorf("interface %s: bandwidth %q must be a positive number", isd.Name, value)
		}
		isd.Bndwdth = vs.floatValue
	case "guideline", "toplevel", "general":
		if isd.CBQ == nil {
			isd.CBQ = new(CBQDesc)
		}
		switch param {
		case "guideline":
			isd.CBQ.Guideline = vs.stringValue
		case "general":
			isd.CBQ.General = vs.stringValue
		default:
			if vs.intValue < 1 {
				return errors.Errorf("interface %s: top level %q must be a positive integer", isd.Name, value)
			}
			isd.CBQ.TopLevel = vs.intValue
		}
	case "stats":
		isd.Stats = vs.boolValue
	case "trace":
		isd.Trace = vs.boolValue
	case "capacity":
		if vs.intValue < 1 {
			return errors.Errorf("interface %s: capacity %q must be a positive integer", isd.Name, value)
		}
		for idx := range isd.Queues {
			isd.Queues[idx].Capacity = vs.intValue
		}
	default:
		return errors.Errorf("interface %s: parameter %q not recognized", isd.Name, param)
	}
	return nil
}

// SchedCfg is the dictionary of interface scheduler descriptions for an experiment,
// along with the parameters that modify them
type SchedCfg struct {
	Name    string            `json:"name" yaml:"name"`
	Intrfcs []IntrfcSchedDesc `json:"intrfcs" yaml:"intrfcs"`
	Params  []SchedParam      `json:"params" yaml:"params"`
}

// CreateSchedCfg is a constructor
func CreateSchedCfg(name string) *SchedCfg {
	sc := new(SchedCfg)
	sc.Name = name
	sc.Intrfcs = make([]IntrfcSchedDesc, 0)
	sc.Params = make([]SchedParam, 0)
	return sc
}

// AddIntrfc includes a copy of the description in the dictionary
func (sc *SchedCfg) AddIntrfc(isd *IntrfcSchedDesc) {
	sc.Intrfcs = append(sc.Intrfcs, *isd)
}

// AddParam checks and includes a parameter assignment
func (sc *SchedCfg) AddParam(node, intrfc, param, value string) error {
	err := validateSchedParam(node, intrfc, param)
	if err != nil {
		return err
	}
	sc.Params = append(sc.Params, SchedParam{Node: node, Intrfc: intrfc, Param: param, Value: value})
	return nil
}

// ApplyParams applies the parameters to the interface descriptions, broadest first.
// Every failure is reported
func (sc *SchedCfg) ApplyParams() error {
	errs := []error{}
	for _, sp := range reorderSchedParams(sc.Params) {
		err := validateSchedParam(sp.Node, sp.Intrfc, sp.Param)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for idx := range sc.Intrfcs {
			if sp.matches(&sc.Intrfcs[idx]) {
				errs = append(errs, sc.Intrfcs[idx].setParam(sp.Param, sp.Value))
			}
		}
	}
	return ReportErrs(errs)
}

// WriteToFile serializes the SchedCfg and writes to the file whose name is given as an input argument.
// Extension of the file name selects whether serialization is to json or to yaml format.
func (sc *SchedCfg) WriteToFile(filename string) error {
	return writeDescFile(filename, *sc)
}

// ReadSchedCfg deserializes a slice of bytes into a SchedCfg.  If the input arg of bytes
// is empty, the file whose name is given as an argument is read.  Error returned if
// any part of the process generates the error.
func ReadSchedCfg(filename string, useYAML bool, dict []byte) (*SchedCfg, error) {
	example := SchedCfg{}
	err := readDescFile(filename, useYAML, dict, &example)
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// readDescFile deserializes dict into obj, reading dict from the file first if it is empty
func readDescFile(filename string, useYAML bool, dict []byte, obj any) error {
	var err error

	// read from the file only if the byte slice is empty
	if len(dict) == 0 {
		fileInfo, serr := os.Stat(filename)
		if serr != nil || fileInfo.IsDir() {
			return errors.Errorf("description file %s does not exist or cannot be read", filename)
		}
		dict, err = os.ReadFile(filename)
		if err != nil {
			return errors.Wrapf(err, "reading %s", filename)
		}
	}

	if useYAML {
		err = yaml.Unmarshal(dict, obj)
	} else {
		err = json.Unmarshal(dict, obj)
	}
	if err != nil {
		return errors.Wrapf(err, "deserializing %s", filename)
	}
	return nil
}

// ReportErrs gathers the non-nil errors of a list into a single error, nil if there are none
func ReportErrs(errs []error) error {
	return multierr.Combine(errs...)
}

// ReadLinkSharingFile returns the lines of a file holding link-sharing structure
func ReadLinkSharingFile(filename string) ([]string, error) {
	bytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "reading link-sharing file %s", filename)
	}
	return strings.Split(strings.ReplaceAll(string(bytes), "\r\n", "\n"), "\n"), nil
}

// addDescQueues gives the scheduler a FIFOQueue for every queue description
func addDescQueues(sched Scheduler, isd *IntrfcSchedDesc) error {
	errs := []error{}
	for _, qd := range isd.Queues {
		capacity := qd.Capacity
		if capacity == 0 {
			capacity = DefaultQueueCapacity
		}
		weight := qd.Weight
		if weight == 0.0 {
			weight = 1.0
		}
		_, err := sched.AddQueue(CreateFIFOQueue(capacity), qd.Priority, weight)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "interface %s", isd.Name))
		}
	}
	return ReportErrs(errs)
}

// buildCBQ reads the link-sharing structure of the description and builds the CBQ manager
func buildCBQ(isd *IntrfcSchedDesc, clock EventClock) (*CBQ, error) {
	if isd.CBQ == nil {
		return nil, errors.Errorf("interface %s: CBQ scheduler without CBQ settings", isd.Name)
	}
	lines := slices.Clone(isd.CBQ.LinkSharing)
	if len(isd.CBQ.LinkSharingFile) > 0 {
		fileLines, err := ReadLinkSharingFile(isd.CBQ.LinkSharingFile)
		if err != nil {
			return nil, err
		}
		lines = append(lines, fileLines...)
	}

	tree, err := ReadResourceSharingStr(lines, isd.NodeID, isd.IntrfcIdx, isd.NumIntrfcs)
	if err != nil {
		return nil, errors.Wrapf(err, "interface %s", isd.Name)
	}

	params := CBQParams{Guideline: isd.CBQ.Guideline, TopLevel: isd.CBQ.TopLevel, General: isd.CBQ.General,
		LinkBW: isd.Bndwdth * 1e6, FilterGain: isd.CBQ.FilterGain, MaxIdle: isd.CBQ.MaxIdle,
		MinIdle: isd.CBQ.MinIdle, NodeID: isd.NodeID, IntrfcIdx: isd.IntrfcIdx, NumIntrfcs: isd.NumIntrfcs}

	cbq, err := CreateCBQ(params, tree, clock)
	if err != nil {
		return nil, errors.Wrapf(err, "interface %s", isd.Name)
	}
	err = addDescQueues(cbq, isd)
	if err != nil {
		return nil, err
	}
	err = cbq.Validate()
	if err != nil {
		return nil, errors.Wrapf(err, "interface %s", isd.Name)
	}
	return cbq, nil
}

// BuildIntrfcScheduler creates the Scheduler the description calls for, with its queues
func BuildIntrfcScheduler(isd *IntrfcSchedDesc, clock EventClock) (Scheduler, error) {
	switch isd.Scheduler {
	case CBQType:
		return buildCBQ(isd, clock)

	case TwoTierType:
		if isd.TwoTier == nil {
			return nil, errors.Errorf("interface %s: TWO-TIER scheduler without tier settings", isd.Name)
		}
		low, lerr := CreateScheduler(isd.TwoTier.Low)
		high, herr := CreateScheduler(isd.TwoTier.High)
		err := ReportErrs([]error{lerr, herr})
		if err != nil {
			return nil, errors.Wrapf(err, "interface %s", isd.Name)
		}
		tt, err := CreateTwoTier(isd.TwoTier.Boundary, low, high)
		if err != nil {
			return nil, errors.Wrapf(err, "interface %s", isd.Name)
		}
		err = addDescQueues(tt, isd)
		if err != nil {
			return nil, err
		}
		return tt, nil
	}

	sched, err := CreateScheduler(isd.Scheduler)
	if err != nil {
		return nil, errors.Wrapf(err, "interface %s", isd.Name)
	}
	err = addDescQueues(sched, isd)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// BuildSchedulers applies the parameters of the dictionary and builds the scheduler of every
// interface, indexed by interface name.  When tm is not nil, schedulers whose descriptions
// ask for tracing record to it
func BuildSchedulers(sc *SchedCfg, clock EventClock, tm *TraceManager) (map[string]Scheduler, error) {
	err := sc.ApplyParams()
	if err != nil {
		return nil, err
	}

	rtn := make(map[string]Scheduler)
	errs := []error{}
	for idx := range sc.Intrfcs {
		isd := &sc.Intrfcs[idx]
		if _, present := rtn[isd.Name]; present {
			errs = append(errs, errors.Errorf("interface name %s is duplicated", isd.Name))
			continue
		}
		sched, berr := BuildIntrfcScheduler(isd, clock)
		if berr != nil {
			errs = append(errs, berr)
			continue
		}
		if isd.Trace && tm != nil {
			tm.AddName(idx, isd.Name, fmt.Sprintf("%s scheduler", sched.Kind()))
			sched.SetTrace(tm, idx)
		}
		rtn[isd.Name] = sched
	}

	err = ReportErrs(errs)
	if err != nil {
		return nil, err
	}
	return rtn, nil
}
