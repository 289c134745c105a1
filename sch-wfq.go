package ifsched

import (
	"math"
)

// WFQ is weighted fair queueing.  The virtual clock roundNumber advances on every
// admitted arrival by the reciprocal of the weight of the active queues, and a packet
// is tagged with the virtual time at which its service would finish
type WFQ struct {
	fairQueue
	roundNumber float64
}

// CreateWFQ is a constructor
func CreateWFQ() *WFQ {
	return &WFQ{fairQueue: createFairQueue(WeightedFairType)}
}

// RoundNumber returns the virtual clock
func (wfq *WFQ) RoundNumber() float64 {
	return wfq.roundNumber
}

func (wfq *WFQ) Insert(pckt *Packet, priority int, now float64) bool {
	entry := wfq.entry(wfq.Classify(priority))
	if entry == nil {
		return true
	}
	wfq.autoAssignWeights()

	wasEmpty := entry.queue.PacketsInQueue() == 0
	if wfq.insertInto(entry, pckt, now, 0.0) {
		return true
	}

	// the queue just filled counts among the active ones
	roundRate := 1.0 / wfq.activeWeight()
	wfq.roundNumber += roundRate

	tag := math.Max(wfq.roundNumber, entry.serviceTag) + float64(pckt.Size)/entry.weight
	entry.queue.SetServiceTag(tag)
	entry.serviceTag = tag
	if wasEmpty {
		entry.finishNum = tag
		wfq.numActive += 1
	}
	return false
}

func (wfq *WFQ) Retrieve(priority, index int, op QueueOp, now float64) (*Packet, int, bool) {
	entry, pckt, _, ok := wfq.retrieveTagged(priority, index, op, now)
	if entry == nil {
		return nil, AllPriorities, false
	}
	return pckt, entry.priority, ok
}
