package ifsched

// sch-fq.go holds what weighted fair queueing and self-clocked fair queueing
// share: per-queue finish numbers and service tags, the count of active queues,
// and selection of the packet with the smallest tag across queues.

import (
	"github.com/pkg/errors"
)

type fairQueue struct {
	schedBase
	numActive int // queues holding at least one packet
}

func createFairQueue(kind string) fairQueue {
	return fairQueue{schedBase: createSchedBase(kind)}
}

func (fq *fairQueue) AddQueue(queue Queue, priority int, weight float64) (int, error) {
	assigned, err := fq.addQueue(queue, priority, weight)
	if err != nil {
		return assigned, errors.Wrap(err, "fair queueing")
	}
	if weight < 1.0 {
		fq.weightsAssigned = true
	}
	return assigned, nil
}

func (fq *fairQueue) RemoveQueue(priority int) {
	entry := fq.removeQueue(priority)
	if entry != nil && entry.queue.PacketsInQueue() > 0 {
		fq.numActive -= 1
	}
}

// SwapQueue carries the tags of the surviving packets into the new queue and
// keeps the count of active queues consistent with what survived
func (fq *fairQueue) SwapQueue(queue Queue, priority int) error {
	entry := fq.entry(priority)
	wasActive := entry != nil && entry.queue.PacketsInQueue() > 0

	err := fq.schedBase.SwapQueue(queue, priority)
	if err != nil {
		return err
	}
	entry = fq.entry(priority)
	isActive := entry.queue.PacketsInQueue() > 0
	if wasActive && !isActive {
		fq.numActive -= 1
	} else if !wasActive && isActive {
		fq.numActive += 1
	}
	if isActive {
		behavior := entry.queue.Behavior()
		entry.queue.SetBehavior(Resume)
		_, tag, ok := entry.queue.Retrieve(0, PeekAtNextPacket, 0.0)
		entry.queue.SetBehavior(behavior)
		if ok {
			entry.finishNum = tag
		}
	}
	return nil
}

// NumActive returns the number of queues holding packets
func (fq *fairQueue) NumActive() int {
	return fq.numActive
}

// FinishNumber returns the tag of the head packet of the queue at the priority
func (fq *fairQueue) FinishNumber(priority int) float64 {
	entry := fq.entry(priority)
	if entry == nil {
		return 0.0
	}
	return entry.finishNum
}

// ServiceTag returns the tag given to the most recent arrival at the priority
func (fq *fairQueue) ServiceTag(priority int) float64 {
	entry := fq.entry(priority)
	if entry == nil {
		return 0.0
	}
	return entry.serviceTag
}

// activeWeight sums the weights of the queues holding packets
func (fq *fairQueue) activeWeight() float64 {
	sum := 0.0
	for _, entry := range fq.entries {
		if entry.queue.PacketsInQueue() > 0 {
			sum += entry.weight
		}
	}
	return sum
}

// tagAt returns the tag of the packet at offset in the queue of the record
func (fq *fairQueue) tagAt(entry *queueEntry, offset int) float64 {
	if offset == 0 {
		return entry.finishNum
	}
	_, tag, _ := entry.queue.Retrieve(offset, PeekAtNextPacket, 0.0)
	return tag
}

// selectQueue finds the queue position and packet position of the index-th packet in
// order of ascending tag.  Each position taken from a queue moves that queue's offset
// one packet deeper, so later positions see the queue's next tag.  Ties go to the
// queue at the lower position.  Nothing is changed
func (fq *fairQueue) selectQueue(index int) (int, int, bool) {
	offsets := make([]int, len(fq.entries))
	selected, pcktIdx := -1, 0

	for step := 0; step <= index; step++ {
		best := -1
		bestTag := 0.0
		for qIdx, entry := range fq.entries {
			if entry.queue.IsEmpty() || offsets[qIdx] >= entry.queue.PacketsInQueue() {
				continue
			}
			tag := fq.tagAt(entry, offsets[qIdx])
			if best < 0 || tag < bestTag {
				best, bestTag = qIdx, tag
			}
		}
		if best < 0 {
			return -1, 0, false
		}
		selected, pcktIdx = best, offsets[best]
		offsets[best] += 1
	}
	return selected, pcktIdx, true
}

// retrieveTagged applies op to the selected packet and maintains the finish number and
// activity of the queue it came from.  The finish number the queue had before the
// operation is returned with the record and packet
func (fq *fairQueue) retrieveTagged(priority, index int, op QueueOp, now float64) (*queueEntry, *Packet, float64, bool) {
	if index < 0 || index >= fq.NumberInQueue(priority) {
		return nil, nil, 0.0, false
	}

	var qIdx, pcktIdx int
	if priority == AllPriorities {
		var found bool
		qIdx, pcktIdx, found = fq.selectQueue(index)
		if !found {
			return nil, nil, 0.0, false
		}
	} else {
		qIdx, pcktIdx = fq.entryIdx(priority), index
	}
	entry := fq.entries[qIdx]

	if op == DequeuePacket {
		for _, other := range fq.entries {
			if other.queue.IsEmpty() {
				continue
			}
			other.stats.DequeueRequests += 1
			if other != entry {
				other.stats.MissedService += 1
			}
		}
	}

	prevFinish := entry.finishNum
	pckt, headTag, ok := fq.retrieveFrom(entry, pcktIdx, op, now)
	if !ok || !op.removes() {
		return entry, pckt, prevFinish, ok
	}

	if entry.queue.PacketsInQueue() == 0 {
		fq.numActive -= 1
		entry.finishNum = 0.0
	} else {
		entry.finishNum = headTag
	}
	return entry, pckt, prevFinish, true
}
