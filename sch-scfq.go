package ifsched

import (
	"math"
)

// SCFQ is self-clocked fair queueing.  Its virtual clock is the finish tag of the
// packet most recently served, so it moves only when service happens
type SCFQ struct {
	fairQueue
	currentFinish float64
}

// CreateSCFQ is a constructor
func CreateSCFQ() *SCFQ {
	return &SCFQ{fairQueue: createFairQueue(SelfClockedFairType)}
}

// CurrentFinish returns the virtual clock
func (scfq *SCFQ) CurrentFinish() float64 {
	return scfq.currentFinish
}

func (scfq *SCFQ) Insert(pckt *Packet, priority int, now float64) bool {
	entry := scfq.entry(scfq.Classify(priority))
	if entry == nil {
		return true
	}
	scfq.autoAssignWeights()

	tag := math.Max(scfq.currentFinish, entry.serviceTag) + float64(pckt.Size)/entry.weight
	wasEmpty := entry.queue.PacketsInQueue() == 0
	if scfq.insertInto(entry, pckt, now, tag) {
		return true
	}
	entry.serviceTag = tag
	if wasEmpty {
		entry.finishNum = tag
		scfq.numActive += 1
	}
	return false
}

func (scfq *SCFQ) Retrieve(priority, index int, op QueueOp, now float64) (*Packet, int, bool) {
	entry, pckt, prevFinish, ok := scfq.retrieveTagged(priority, index, op, now)
	if entry == nil {
		return nil, AllPriorities, false
	}
	if ok && op == DequeuePacket {
		scfq.currentFinish = prevFinish
	}
	if ok && op.removes() && scfq.numActive == 0 {
		scfq.currentFinish = 0.0
	}
	return pckt, entry.priority, ok
}
