package ifsched

// cbq.go holds the class-based queueing resource manager.  It wraps a general
// scheduler (strict priority or weighted round robin) that holds the queues and
// makes the physical dequeue, and consults the link-sharing tree before letting
// a dequeue decision stand.  A class found over its limit, and not allowed to
// borrow by the link-sharing guideline, has its queue suspended until the time
// the estimator says it may send again.

import (
	"math"

	"github.com/iti/evt/evtm"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Guideline selects when an over-limit class is regulated
type Guideline int

const (
	AncestorOnly Guideline = iota
	TopLevel
)

// selector strings for guidelines and general schedulers
const (
	AncestorOnlyGuideline string = "ANCESTOR-ONLY"
	TopLevelGuideline     string = "TOP-LEVEL"
	PRRGeneral            string = "PRR"
	WRRGeneral            string = "WRR"
)

// defaults for the estimator
const (
	DefaultFilterGain int     = 4
	DefaultMaxIdle    float64 = 0.01
	DefaultMinIdle    float64 = -0.01
)

// CBQParams gathers what is needed to set up a CBQ resource manager
type CBQParams struct {
	Guideline  string  // ANCESTOR-ONLY or TOP-LEVEL
	TopLevel   int     // depth limit of TOP-LEVEL, at least 1
	General    string  // PRR or WRR
	LinkBW     float64 // bits per second
	FilterGain int     // EWMA gain is 1 - 2^-FilterGain; 0 selects the default
	MaxIdle    float64 // idle ceiling that triggers a new grace budget; 0 selects the default
	MinIdle    float64 // idle floor below which an over-limit class is always penalized; 0 selects the default

	// identity of the interface, for matching link-sharing lines
	NodeID     int
	IntrfcIdx  int
	NumIntrfcs int
}

// cbqWakeToken is what a suspension hands to the event clock, to be given back at wake-up
type cbqWakeToken struct {
	appIdx     int
	priority   int
	generation int
}

// CBQ is the class-based queueing resource manager
type CBQ struct {
	inner   Scheduler
	general string
	params  CBQParams

	tree       *ResourceSharingTree
	generation int // bumped when the tree is replaced

	clock        EventClock
	guideline    Guideline
	weightFactor float64

	// counters kept by the manager itself, by priority
	cbqStats map[int]*QueueStats

	ready func(priority int)

	trace *TraceManager
	objID int
}

// CreateCBQ is a constructor.  Queues are added afterwards; the number of applications
// in the tree has to match the number of queues before the first dequeue
func CreateCBQ(params CBQParams, tree *ResourceSharingTree, clock EventClock) (*CBQ, error) {
	cbq := new(CBQ)
	cbq.cbqStats = make(map[int]*QueueStats)

	switch params.Guideline {
	case AncestorOnlyGuideline:
		cbq.guideline = AncestorOnly
	case TopLevelGuideline:
		cbq.guideline = TopLevel
		if params.TopLevel < 1 {
			return nil, errors.Errorf("CBQ: top level %d can't be less than 1", params.TopLevel)
		}
	default:
		return nil, errors.Errorf("CBQ: unknown link-sharing guideline %q, supported are %s | %s",
			params.Guideline, AncestorOnlyGuideline, TopLevelGuideline)
	}

	switch params.General {
	case PRRGeneral:
		cbq.inner = CreateStrictPriority()
	case WRRGeneral:
		cbq.inner = CreateWRR()
	default:
		return nil, errors.Errorf("CBQ: unknown general scheduler %q, supported are %s | %s",
			params.General, PRRGeneral, WRRGeneral)
	}
	cbq.general = params.General

	if params.LinkBW <= 0.0 {
		return nil, errors.Errorf("CBQ: link bandwidth %v must be positive", params.LinkBW)
	}
	if tree == nil {
		return nil, errors.New("CBQ: no link-sharing tree")
	}
	if clock == nil {
		return nil, errors.New("CBQ: no event clock")
	}
	if params.FilterGain == 0 {
		params.FilterGain = DefaultFilterGain
	}
	if params.MaxIdle == 0.0 {
		params.MaxIdle = DefaultMaxIdle
	}
	if params.MinIdle == 0.0 {
		params.MinIdle = DefaultMinIdle
	}
	cbq.params = params
	cbq.weightFactor = 1.0 - math.Pow(2.0, -float64(params.FilterGain))
	cbq.tree = tree
	cbq.clock = clock
	return cbq, nil
}

func (cbq *CBQ) Kind() string {
	return CBQType
}

// Tree returns the link-sharing tree in use
func (cbq *CBQ) Tree() *ResourceSharingTree {
	return cbq.tree
}

// General returns the scheduler that holds the queues
func (cbq *CBQ) General() Scheduler {
	return cbq.inner
}

// WeightFactor returns the EWMA gain applied to each new idle sample
func (cbq *CBQ) WeightFactor() float64 {
	return cbq.weightFactor
}

// SetReadyNotifier registers the function called when a woken queue has packets to send
func (cbq *CBQ) SetReadyNotifier(ready func(priority int)) {
	cbq.ready = ready
}

func (cbq *CBQ) SetTrace(tm *TraceManager, objID int) {
	cbq.trace = tm
	cbq.objID = objID
	cbq.inner.SetTrace(tm, objID)
}

// Validate checks that every queue has an application in the tree and vice versa
func (cbq *CBQ) Validate() error {
	priorities := cbq.inner.Priorities()
	if len(priorities) != cbq.tree.NumApplications() {
		return errors.Errorf("CBQ: number of applications %d must equal number of queues %d",
			cbq.tree.NumApplications(), len(priorities))
	}
	for _, priority := range priorities {
		if _, present := cbq.tree.Application(priority); !present {
			return errors.Errorf("CBQ: queue priority %d has no application in the link-sharing tree", priority)
		}
	}
	return nil
}

func (cbq *CBQ) AddQueue(queue Queue, priority int, weight float64) (int, error) {
	if weight <= 0.0 || weight > 1.0 {
		return AllPriorities, errors.Errorf("CBQ: queue weight %v must stay between (0,1]", weight)
	}
	assigned, err := cbq.inner.AddQueue(queue, priority, weight)
	if err != nil {
		return assigned, errors.Wrap(err, "CBQ")
	}
	cbq.cbqStats[assigned] = &QueueStats{Priority: assigned}
	return assigned, nil
}

func (cbq *CBQ) RemoveQueue(priority int) {
	cbq.inner.RemoveQueue(priority)
	delete(cbq.cbqStats, priority)
}

func (cbq *CBQ) SwapQueue(queue Queue, priority int) error {
	if _, present := cbq.cbqStats[priority]; present {
		return cbq.inner.SwapQueue(queue, priority)
	}
	_, err := cbq.AddQueue(queue, priority, 1.0)
	return err
}

func (cbq *CBQ) Classify(priority int) int {
	return cbq.inner.Classify(priority)
}

func (cbq *CBQ) BytesInQueue(priority int) int {
	return cbq.inner.BytesInQueue(priority)
}

func (cbq *CBQ) NumberInQueue(priority int) int {
	return cbq.inner.NumberInQueue(priority)
}

func (cbq *CBQ) SetQueueBehavior(priority int, qb QueueBehavior) {
	cbq.inner.SetQueueBehavior(priority, qb)
}

func (cbq *CBQ) QueueBehavior(priority int) QueueBehavior {
	return cbq.inner.QueueBehavior(priority)
}

func (cbq *CBQ) SetRawWeight(priority int, weight float64) error {
	return cbq.inner.SetRawWeight(priority, weight)
}

func (cbq *CBQ) NormalizeWeights() {
	cbq.inner.NormalizeWeights()
}

func (cbq *CBQ) Weight(priority int) float64 {
	return cbq.inner.Weight(priority)
}

func (cbq *CBQ) Priorities() []int {
	return cbq.inner.Priorities()
}

// Stats merges the counters of the general scheduler with those of the manager
func (cbq *CBQ) Stats() []QueueStats {
	rtn := cbq.inner.Stats()
	for idx := range rtn {
		cst, present := cbq.cbqStats[rtn[idx].Priority]
		if !present {
			continue
		}
		rtn[idx].DequeueRequests = cst.DequeueRequests
		rtn[idx].Suspended = cst.Suspended
		rtn[idx].GPSDequeues = cst.GPSDequeues
		rtn[idx].LSSDequeues = cst.LSSDequeues
		rtn[idx].MaxExtraDelay = cst.MaxExtraDelay
		rtn[idx].TotalExtraDelay = cst.TotalExtraDelay
	}
	return rtn
}

// suspended reports whether the application bound to the priority is waiting for its wake-up
func (cbq *CBQ) suspended(priority int) bool {
	appIdx, present := cbq.tree.Application(priority)
	return present && cbq.tree.Node(appIdx).Est.Suspended
}

// IsEmpty treats a queue whose application is suspended as empty
func (cbq *CBQ) IsEmpty(priority int) bool {
	if priority == AllPriorities {
		for _, p := range cbq.inner.Priorities() {
			if !cbq.inner.IsEmpty(p) && !cbq.suspended(p) {
				return false
			}
		}
		return true
	}
	if _, present := cbq.cbqStats[priority]; !present {
		return false
	}
	return cbq.inner.IsEmpty(priority) || cbq.suspended(priority)
}

// Insert hands the packet to the general scheduler, and activates the application
// and its ancestors when its queue goes from empty to non-empty
func (cbq *CBQ) Insert(pckt *Packet, priority int, now float64) bool {
	target := cbq.inner.Classify(priority)
	if target == AllPriorities {
		return true
	}
	wasEmpty := cbq.inner.NumberInQueue(target) == 0
	full := cbq.inner.Insert(pckt, target, now)
	if !full && wasEmpty {
		appIdx, present := cbq.tree.Application(target)
		if present {
			cbq.tree.activate(appIdx)
		}
	}
	return full
}

// estimate updates the estimators from the application up to (not including) the root
// for a packet of size bytes wanting to leave now.  The return is true if the
// application may send now
func (cbq *CBQ) estimate(size int, appIdx int, now float64) bool {
	wf := cbq.weightFactor
	bits := float64(size) * 8.0

	for idx := appIdx; cbq.tree.Node(idx).parent > -1; idx = cbq.tree.Node(idx).parent {
		node := cbq.tree.Node(idx)
		est := &node.Est

		fractionBW := node.Weight
		if node.Borrow {
			fractionBW = cbq.tree.FractionalBandwidth(idx)
		}
		idealInterPckt := bits / (fractionBW * cbq.params.LinkBW)
		idle := (now - est.LastServiceTime) - idealInterPckt

		// nothing to compare against before the first service
		if est.LastServiceTime == 0.0 {
			idle = 0.0
		}

		prevPrevAvgIdle := est.PrevAvgIdle
		est.PrevAvgIdle = est.AvgIdle
		est.AvgIdle = (1.0-wf)*est.AvgIdle + wf*idle
		if est.AvgIdle > est.MaxAvgIdle {
			est.MaxAvgIdle = est.AvgIdle
		}

		// under limit
		if est.AvgIdle >= 0.0 {
			est.TimeToSend = 0.0
			continue
		}

		// just crossed over the limit
		if est.PrevAvgIdle >= 0.0 && prevPrevAvgIdle <= 0.0 {
			est.TimeToSend = 0.0
			continue
		}

		// over limit.  A class that was idle long enough earns a budget of packets it may send anyway
		if est.MaxAvgIdle > cbq.params.MaxIdle {
			aValue := cbq.params.MaxIdle/(bits/(cbq.params.LinkBW*(1.0/node.Weight-1.0))) + 1.0
			est.NumPktToTransmit = int(math.Log10(aValue) / -math.Log10(1.0-wf))
			est.MaxAvgIdle = 0.0
		}

		if est.NumPktToTransmit == 0 || est.AvgIdle < cbq.params.MinIdle {
			if node.IsAgency {
				est.TimeToSend = now + idealInterPckt - est.AvgIdle*((1.0-wf)/wf)
			} else {
				est.TimeToSend = now + idealInterPckt
			}
		} else {
			est.TimeToSend = 0.0
		}
	}

	est := &cbq.tree.Node(appIdx).Est
	return est.TimeToSend == 0.0 || est.TimeToSend < now
}

// overLimit is true for a node that may not send before some future time
func (cbq *CBQ) overLimit(idx int, now float64) bool {
	return cbq.tree.Node(idx).Est.TimeToSend > now
}

// regulated applies the guideline to an application the estimator did not clear.
// ANCESTOR-ONLY regulates unless the application or its parent is under limit.
// TOP-LEVEL regulates unless an ancestor within TopLevel levels is under limit
func (cbq *CBQ) regulated(appIdx int, now float64) bool {
	if !cbq.overLimit(appIdx, now) {
		return false
	}
	parent := cbq.tree.Node(appIdx).parent

	if cbq.guideline == AncestorOnly {
		return parent < 0 || cbq.overLimit(parent, now)
	}

	idx := appIdx
	for level := 1; level <= cbq.params.TopLevel; level++ {
		idx = cbq.tree.Node(idx).parent
		if idx < 0 {
			break
		}
		if !cbq.overLimit(idx, now) {
			return false
		}
	}
	return true
}

// suspend stops service of the queue at the priority until the application's time to send
func (cbq *CBQ) suspend(priority, appIdx int, op QueueOp, now float64) {
	est := &cbq.tree.Node(appIdx).Est
	extraDelay := est.TimeToSend - now

	est.Suspended = true
	cbq.inner.SetQueueBehavior(priority, Suspend)
	token := cbqWakeToken{appIdx: appIdx, priority: priority, generation: cbq.generation}
	cbq.clock.ScheduleAfter(extraDelay, cbq, token, cbqWakeUp)

	if op == DequeuePacket {
		cst := cbq.cbqStats[priority]
		cst.Suspended += 1
		cst.TotalExtraDelay += extraDelay
		if extraDelay > cst.MaxExtraDelay {
			cst.MaxExtraDelay = extraDelay
		}
	}
	AddSchedTrace(cbq.trace, now, cbq.objID, priority, nil, "suspend")
	logger.Debug("CBQ queue suspended", zap.Int("priority", priority), zap.String("class", cbq.tree.ClassPath(priority)),
		zap.Float64("now", now), zap.Float64("delay", extraDelay))
}

// cbqWakeUp is the event handler scheduled by a suspension
func cbqWakeUp(evtMgr *evtm.EventManager, context any, data any) any {
	cbq := context.(*CBQ)
	token := data.(cbqWakeToken)
	cbq.wakeUp(token)
	return nil
}

// wakeUp ends a suspension, and signals the layer above if the queue has packets.
// Tokens issued for a tree that has since been replaced are ignored
func (cbq *CBQ) wakeUp(token cbqWakeToken) {
	if token.generation != cbq.generation {
		return
	}
	cbq.tree.Node(token.appIdx).Est.Suspended = false
	cbq.inner.SetQueueBehavior(token.priority, Resume)

	now := cbq.clock.Now()
	AddSchedTrace(cbq.trace, now, cbq.objID, token.priority, nil, "wakeup")
	logger.Debug("CBQ queue woken", zap.Int("priority", token.priority), zap.Float64("now", now))

	if !cbq.IsEmpty(token.priority) && cbq.ready != nil {
		cbq.ready(token.priority)
	}
}

// Retrieve with a specific priority goes straight to the general scheduler.  With AllPriorities
// the general scheduler's candidates are vetted by the estimator and guideline until one is
// accepted; candidates regulated by the guideline are suspended.  If every candidate in the
// pass was suspended, the last one is served once anyway and suspended again
func (cbq *CBQ) Retrieve(priority, index int, op QueueOp, now float64) (*Packet, int, bool) {
	if index < 0 || index >= cbq.NumberInQueue(priority) {
		return nil, AllPriorities, false
	}
	err := cbq.Validate()
	if err != nil {
		panic(err)
	}

	if priority != AllPriorities {
		return cbq.inner.Retrieve(priority, index, op, now)
	}

	selected := AllPriorities
	lastSuspended := AllPriorities
	for selected == AllPriorities && !cbq.IsEmpty(AllPriorities) {
		pckt, candidate, ok := cbq.inner.Retrieve(AllPriorities, index, PeekAtNextPacket, now)
		if !ok {
			return nil, AllPriorities, false
		}
		cbq.cbqStats[candidate].DequeueRequests += 1

		appIdx, _ := cbq.tree.Application(candidate)
		if cbq.estimate(pckt.Size, appIdx, now) {
			selected = candidate
			if op == DequeuePacket {
				cbq.cbqStats[candidate].GPSDequeues += 1
			}
			break
		}

		if !cbq.tree.Node(appIdx).Efficient && cbq.regulated(appIdx, now) {
			cbq.suspend(candidate, appIdx, op, now)
			lastSuspended = candidate
			continue
		}

		// link-sharing lets it go
		selected = candidate
		if op == DequeuePacket {
			cbq.cbqStats[candidate].LSSDequeues += 1
		}
	}

	forced := false
	if selected == AllPriorities {
		if lastSuspended == AllPriorities {
			return nil, AllPriorities, false
		}
		selected = lastSuspended
		forced = true
		cbq.inner.SetQueueBehavior(selected, Resume)
	}

	pckt, _, ok := cbq.inner.Retrieve(selected, 0, op, now)

	if forced {
		cbq.inner.SetQueueBehavior(selected, Suspend)
		AddSchedTrace(cbq.trace, now, cbq.objID, selected, pckt, "force")
		logger.Debug("CBQ every active queue suspended, serving one anyway", zap.Int("priority", selected),
			zap.Float64("now", now))
	}

	if ok && op == DequeuePacket {
		appIdx, _ := cbq.tree.Application(selected)
		for idx := appIdx; idx > -1; idx = cbq.tree.Node(idx).parent {
			est := &cbq.tree.Node(idx).Est
			est.LastServiceTime = now
			if est.NumPktToTransmit > 0 {
				est.NumPktToTransmit -= 1
			}
		}
		if cbq.inner.NumberInQueue(selected) == 0 {
			cbq.tree.deactivate(appIdx)
		}
	}
	return pckt, selected, ok
}

// Reconfigure replaces the link-sharing tree with one read from lines.  Suspensions
// end, pending wake-ups are voided, and applications whose queues hold packets are active
func (cbq *CBQ) Reconfigure(lines []string) error {
	tree, err := ReadResourceSharingStr(lines, cbq.params.NodeID, cbq.params.IntrfcIdx, cbq.params.NumIntrfcs)
	if err != nil {
		return err
	}
	oldTree := cbq.tree
	cbq.tree = tree
	err = cbq.Validate()
	if err != nil {
		cbq.tree = oldTree
		return err
	}

	cbq.generation += 1
	cbq.inner.SetQueueBehavior(AllPriorities, Resume)
	for _, priority := range cbq.inner.Priorities() {
		if cbq.inner.NumberInQueue(priority) > 0 {
			appIdx, _ := tree.Application(priority)
			tree.activate(appIdx)
		}
	}
	logger.Info("CBQ link-sharing tree replaced", zap.Int("nodes", tree.Len()),
		zap.Int("generation", cbq.generation))
	return nil
}
