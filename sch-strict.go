package ifsched

// StrictPriority always serves the highest priority queue that has a packet
type StrictPriority struct {
	schedBase
}

// CreateStrictPriority is a constructor
func CreateStrictPriority() *StrictPriority {
	return &StrictPriority{schedBase: createSchedBase(StrictPriorityType)}
}

func (sp *StrictPriority) Insert(pckt *Packet, priority int, now float64) bool {
	entry := sp.entry(sp.Classify(priority))
	if entry == nil {
		return true
	}
	return sp.insertInto(entry, pckt, now, 0.0)
}

// Retrieve with AllPriorities addresses the index-th packet of the queues concatenated
// from highest priority to lowest, skipping queues that are empty or suspended
func (sp *StrictPriority) Retrieve(priority, index int, op QueueOp, now float64) (*Packet, int, bool) {
	if index < 0 || index >= sp.NumberInQueue(priority) {
		return nil, AllPriorities, false
	}

	var entry *queueEntry
	pcktIdx := index

	if priority == AllPriorities {
		for idx := len(sp.entries) - 1; idx > -1; idx-- {
			queue := sp.entries[idx].queue
			if queue.IsEmpty() {
				continue
			}
			if pcktIdx < queue.PacketsInQueue() {
				entry = sp.entries[idx]
				break
			}
			pcktIdx -= queue.PacketsInQueue()
		}
		if entry == nil {
			return nil, AllPriorities, false
		}
	} else {
		entry = sp.entry(priority)
	}

	if op == DequeuePacket {
		sp.countDequeueRequests()
	}
	pckt, _, ok := sp.retrieveFrom(entry, pcktIdx, op, now)
	return pckt, entry.priority, ok
}
