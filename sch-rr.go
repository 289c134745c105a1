package ifsched

// RoundRobin serves the queues in turn, one packet at a time
type RoundRobin struct {
	schedBase
	lastServed int // position of the queue served last, -1 to start from the first
}

// CreateRoundRobin is a constructor
func CreateRoundRobin() *RoundRobin {
	return &RoundRobin{schedBase: createSchedBase(RoundRobinType), lastServed: -1}
}

func (rr *RoundRobin) Insert(pckt *Packet, priority int, now float64) bool {
	entry := rr.entry(rr.Classify(priority))
	if entry == nil {
		return true
	}
	return rr.insertInto(entry, pckt, now, 0.0)
}

func (rr *RoundRobin) RemoveQueue(priority int) {
	if rr.removeQueue(priority) != nil {
		rr.lastServed = -1
	}
}

// selectQueue finds the queue position and packet position of the index-th
// packet of a round robin interleaving that starts just after the queue served last.
// Each full sweep over the queues goes one packet deeper
func (rr *RoundRobin) selectQueue(index int) (int, int, bool) {
	if index >= rr.available() {
		return -1, 0, false
	}
	numQueues := len(rr.entries)
	if rr.lastServed >= numQueues {
		rr.lastServed = -1
	}

	qIdx := rr.lastServed
	pcktIdx := 0
	found := 0
	for checked := 1; ; checked++ {
		qIdx = (qIdx + 1) % numQueues
		queue := rr.entries[qIdx].queue
		if !queue.IsEmpty() && queue.PacketsInQueue() > pcktIdx {
			if found == index {
				return qIdx, pcktIdx, true
			}
			found += 1
		}
		if checked%numQueues == 0 {
			pcktIdx += 1
		}
	}
}

func (rr *RoundRobin) Retrieve(priority, index int, op QueueOp, now float64) (*Packet, int, bool) {
	if index < 0 || index >= rr.NumberInQueue(priority) {
		return nil, AllPriorities, false
	}

	var qIdx, pcktIdx int
	if priority == AllPriorities {
		var found bool
		qIdx, pcktIdx, found = rr.selectQueue(index)
		if !found {
			return nil, AllPriorities, false
		}
	} else {
		qIdx, pcktIdx = rr.entryIdx(priority), index
	}
	entry := rr.entries[qIdx]

	if op == DequeuePacket {
		rr.countDequeueRequests()
	}
	pckt, _, ok := rr.retrieveFrom(entry, pcktIdx, op, now)
	if ok {
		switch op {
		case DequeuePacket:
			rr.lastServed = qIdx
		case DropPacket, DiscardPacket:
			rr.lastServed = -1
		}
	}
	return pckt, entry.priority, ok
}
