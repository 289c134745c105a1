package ifsched

// scheduler.go holds the contract every packet scheduling discipline
// satisfies, and schedBase, the ordered collection of (priority, weight, queue)
// records the disciplines share.  schedBase carries the queue management,
// the occupancy queries, and the classification rule that maps a requested
// priority onto a configured one.

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Scheduler decides admission and service order among the queues of one interface
type Scheduler interface {
	// Kind returns the selector string of the discipline
	Kind() string

	// Insert classifies the packet's requested priority and offers it to the matching queue.
	// The return is true if the queue was full and the packet dropped
	Insert(pckt *Packet, priority int, now float64) bool

	// Retrieve applies op to the index-th packet in service order, considering every queue when
	// priority is AllPriorities.  It returns the packet, the priority of the queue it came from,
	// and whether a packet was found
	Retrieve(priority, index int, op QueueOp, now float64) (*Packet, int, bool)

	IsEmpty(priority int) bool
	BytesInQueue(priority int) int
	NumberInQueue(priority int) int

	// AddQueue places a queue at the priority (AllPriorities asks for the next free one)
	// and returns the priority assigned
	AddQueue(queue Queue, priority int, weight float64) (int, error)
	RemoveQueue(priority int)
	SwapQueue(queue Queue, priority int) error

	Classify(priority int) int

	SetQueueBehavior(priority int, qb QueueBehavior)
	QueueBehavior(priority int) QueueBehavior

	SetRawWeight(priority int, weight float64) error
	NormalizeWeights()
	Weight(priority int) float64

	Priorities() []int
	Stats() []QueueStats

	// SetTrace has scheduling events recorded by tm under objID
	SetTrace(tm *TraceManager, objID int)
}

// queueEntry is the record a scheduler keeps for each of its queues
type queueEntry struct {
	priority int
	weight   float64
	queue    Queue
	stats    QueueStats

	counter int // weighted round robin service credits left in the round

	finishNum  float64 // fair queueing tag of the head packet
	serviceTag float64 // fair queueing tag given to the last arrival
}

// schedBase holds the queue records, kept sorted by ascending priority
type schedBase struct {
	kind    string
	entries []*queueEntry

	// true once weights were given explicitly, which turns off automatic assignment
	weightsAssigned bool

	trace *TraceManager
	objID int
}

func createSchedBase(kind string) schedBase {
	return schedBase{kind: kind, entries: make([]*queueEntry, 0)}
}

func (sb *schedBase) Kind() string {
	return sb.kind
}

func (sb *schedBase) SetTrace(tm *TraceManager, objID int) {
	sb.trace = tm
	sb.objID = objID
}

// entryIdx returns the position of the queue with the priority, or -1
func (sb *schedBase) entryIdx(priority int) int {
	return slices.IndexFunc(sb.entries, func(e *queueEntry) bool { return e.priority == priority })
}

// entry returns the record of the queue with the priority, or nil
func (sb *schedBase) entry(priority int) *queueEntry {
	idx := sb.entryIdx(priority)
	if idx < 0 {
		return nil
	}
	return sb.entries[idx]
}

func (sb *schedBase) AddQueue(queue Queue, priority int, weight float64) (int, error) {
	return sb.addQueue(queue, priority, weight)
}

func (sb *schedBase) addQueue(queue Queue, priority int, weight float64) (int, error) {
	if weight <= 0.0 || weight > 1.0 {
		return AllPriorities, errors.Errorf("%s: queue weight %v outside (0,1]", sb.kind, weight)
	}

	if priority == AllPriorities {
		priority = 0
		if len(sb.entries) > 0 {
			priority = sb.entries[len(sb.entries)-1].priority + 1
		}
	} else if priority < 0 {
		return AllPriorities, errors.Errorf("%s: queue priority %d is negative", sb.kind, priority)
	} else if sb.entryIdx(priority) > -1 {
		return AllPriorities, errors.Errorf("%s: priority %d already has a queue", sb.kind, priority)
	}

	// keep the entries sorted by priority
	pos := slices.IndexFunc(sb.entries, func(e *queueEntry) bool { return e.priority > priority })
	if pos < 0 {
		pos = len(sb.entries)
	}
	entry := &queueEntry{priority: priority, weight: weight, queue: queue, stats: QueueStats{Priority: priority}}
	sb.entries = slices.Insert(sb.entries, pos, entry)
	return priority, nil
}

func (sb *schedBase) RemoveQueue(priority int) {
	sb.removeQueue(priority)
}

// removeQueue splices out the record and returns it, or nil if the priority is absent
func (sb *schedBase) removeQueue(priority int) *queueEntry {
	idx := sb.entryIdx(priority)
	if idx < 0 {
		return nil
	}
	entry := sb.entries[idx]
	sb.entries = slices.Delete(sb.entries, idx, idx+1)
	return entry
}

// SwapQueue moves the packets of the queue at the priority into the new one,
// counting the packets that do not fit as drops.  The new queue takes over the
// behavior of the old one.  An absent priority gets a new queue
func (sb *schedBase) SwapQueue(queue Queue, priority int) error {
	entry := sb.entry(priority)
	if entry == nil {
		_, err := sb.addQueue(queue, priority, 1.0)
		return err
	}
	extra := queue.Replicate(entry.queue)
	queue.SetBehavior(entry.queue.Behavior())
	entry.queue = queue
	entry.stats.Enqueued -= extra
	entry.stats.Dropped += extra
	return nil
}

// Classify maps a requested priority onto a configured one: the same priority if it has a queue,
// otherwise the nearest configured priority below it, otherwise the lowest configured priority.
// AllPriorities is returned if there are no queues
func (sb *schedBase) Classify(priority int) int {
	n := len(sb.entries)
	if n == 0 {
		return AllPriorities
	}

	// priorities are frequently 0..n-1, where position and priority agree
	if priority >= 0 && priority < n && sb.entries[priority].priority == priority {
		return priority
	}

	for idx := n - 1; idx > -1; idx-- {
		if sb.entries[idx].priority <= priority {
			return sb.entries[idx].priority
		}
	}
	return sb.entries[0].priority
}

// IsEmpty with AllPriorities is true when every queue is empty.  For a specific
// priority it reports on that queue, and is false if there is no such queue
func (sb *schedBase) IsEmpty(priority int) bool {
	if priority == AllPriorities {
		for _, entry := range sb.entries {
			if !entry.queue.IsEmpty() {
				return false
			}
		}
		return true
	}
	entry := sb.entry(priority)
	if entry == nil {
		return false
	}
	return entry.queue.IsEmpty()
}

func (sb *schedBase) BytesInQueue(priority int) int {
	if priority == AllPriorities {
		total := 0
		for _, entry := range sb.entries {
			total += entry.queue.BytesInQueue()
		}
		return total
	}
	entry := sb.entry(priority)
	if entry == nil {
		return 0
	}
	return entry.queue.BytesInQueue()
}

func (sb *schedBase) NumberInQueue(priority int) int {
	if priority == AllPriorities {
		total := 0
		for _, entry := range sb.entries {
			total += entry.queue.PacketsInQueue()
		}
		return total
	}
	entry := sb.entry(priority)
	if entry == nil {
		return 0
	}
	return entry.queue.PacketsInQueue()
}

// available counts the packets held by queues that may be selected now
func (sb *schedBase) available() int {
	total := 0
	for _, entry := range sb.entries {
		if !entry.queue.IsEmpty() {
			total += entry.queue.PacketsInQueue()
		}
	}
	return total
}

func (sb *schedBase) SetQueueBehavior(priority int, qb QueueBehavior) {
	if priority == AllPriorities {
		for _, entry := range sb.entries {
			entry.queue.SetBehavior(qb)
		}
		return
	}
	entry := sb.entry(priority)
	if entry != nil {
		entry.queue.SetBehavior(qb)
	}
}

func (sb *schedBase) QueueBehavior(priority int) QueueBehavior {
	entry := sb.entry(priority)
	if entry == nil {
		return Resume
	}
	return entry.queue.Behavior()
}

// SetRawWeight sets the weight of a queue without normalization
func (sb *schedBase) SetRawWeight(priority int, weight float64) error {
	if weight <= 0.0 {
		return errors.Errorf("%s: weight %v for priority %d must be positive", sb.kind, weight, priority)
	}
	entry := sb.entry(priority)
	if entry == nil {
		return errors.Errorf("%s: no queue with priority %d", sb.kind, priority)
	}
	entry.weight = weight
	sb.weightsAssigned = true
	return nil
}

// NormalizeWeights scales the weights so they sum to 1
func (sb *schedBase) NormalizeWeights() {
	sum := 0.0
	for _, entry := range sb.entries {
		sum += entry.weight
	}
	if sum <= 0.0 {
		return
	}
	for _, entry := range sb.entries {
		entry.weight /= sum
	}
}

func (sb *schedBase) Weight(priority int) float64 {
	entry := sb.entry(priority)
	if entry == nil {
		return 0.0
	}
	return entry.weight
}

// autoAssignWeights gives queue i the weight (priority(i)+1)/sum(priority(j)+1),
// unless weights were set explicitly
func (sb *schedBase) autoAssignWeights() {
	if sb.weightsAssigned {
		return
	}
	sum := 0
	for _, entry := range sb.entries {
		sum += entry.priority + 1
	}
	for _, entry := range sb.entries {
		entry.weight = float64(entry.priority+1) / float64(sum)
	}
}

func (sb *schedBase) Priorities() []int {
	rtn := make([]int, len(sb.entries))
	for idx, entry := range sb.entries {
		rtn[idx] = entry.priority
	}
	return rtn
}

func (sb *schedBase) Stats() []QueueStats {
	rtn := make([]QueueStats, len(sb.entries))
	for idx, entry := range sb.entries {
		rtn[idx] = entry.stats
	}
	return rtn
}

// insertInto offers the packet to the queue of the record, with the tag, and counts the outcome
func (sb *schedBase) insertInto(entry *queueEntry, pckt *Packet, now float64, tag float64) bool {
	full := entry.queue.Insert(pckt, now, tag)
	if full {
		entry.stats.Dropped += 1
		AddSchedTrace(sb.trace, now, sb.objID, entry.priority, pckt, "drop")
		return true
	}
	entry.stats.Enqueued += 1
	AddSchedTrace(sb.trace, now, sb.objID, entry.priority, pckt, "enqueue")
	return false
}

// retrieveFrom applies op to the packet at index in the record's queue and counts the outcome
func (sb *schedBase) retrieveFrom(entry *queueEntry, index int, op QueueOp, now float64) (*Packet, float64, bool) {
	pckt, tag, ok := entry.queue.Retrieve(index, op, now)
	if !ok || !op.removes() {
		return pckt, tag, ok
	}
	entry.stats.countRetrieve(op, pckt)
	AddSchedTrace(sb.trace, now, sb.objID, entry.priority, pckt, op.String())
	return pckt, tag, ok
}

// countDequeueRequests notes a dequeue request against every queue that could have served it
func (sb *schedBase) countDequeueRequests() {
	for _, entry := range sb.entries {
		if !entry.queue.IsEmpty() {
			entry.stats.DequeueRequests += 1
		}
	}
}

// CreateScheduler returns an empty scheduler of the discipline named by the selector string
func CreateScheduler(kind string) (Scheduler, error) {
	switch kind {
	case StrictPriorityType:
		return CreateStrictPriority(), nil
	case RoundRobinType:
		return CreateRoundRobin(), nil
	case WeightedRRType:
		return CreateWRR(), nil
	case WeightedFairType:
		return CreateWFQ(), nil
	case SelfClockedFairType:
		return CreateSCFQ(), nil
	}
	return nil, errors.Errorf("unknown scheduler type %q", kind)
}
