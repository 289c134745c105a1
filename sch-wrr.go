package ifsched

import (
	"github.com/pkg/errors"
)

// weights are turned into integer credits by scaling with wrrMultiplier
const wrrMultiplier float64 = 100.0

// WRR is weighted round robin.  Each queue gets a number of service credits per round
// proportional to its weight, and is served round robin while it has credits left
type WRR struct {
	schedBase
	lastServed   int // position of the queue served last, -1 to start from the first
	serviceRound int // sum of the credits left in the round
	gcd          int // divisor the credits were reduced by, 0 when credits must be recomputed
}

// CreateWRR is a constructor
func CreateWRR() *WRR {
	return &WRR{schedBase: createSchedBase(WeightedRRType), lastServed: -1}
}

func (wrr *WRR) AddQueue(queue Queue, priority int, weight float64) (int, error) {
	assigned, err := wrr.addQueue(queue, priority, weight)
	if err != nil {
		return assigned, errors.Wrap(err, "WRR")
	}
	if weight < 1.0 {
		wrr.weightsAssigned = true
	}
	wrr.gcd = 0
	return assigned, nil
}

func (wrr *WRR) RemoveQueue(priority int) {
	if wrr.removeQueue(priority) != nil {
		wrr.lastServed = -1
		wrr.gcd = 0
	}
}

func (wrr *WRR) SwapQueue(queue Queue, priority int) error {
	wrr.gcd = 0
	return wrr.schedBase.SwapQueue(queue, priority)
}

func (wrr *WRR) SetRawWeight(priority int, weight float64) error {
	wrr.gcd = 0
	return wrr.schedBase.SetRawWeight(priority, weight)
}

func (wrr *WRR) NormalizeWeights() {
	wrr.gcd = 0
	wrr.schedBase.NormalizeWeights()
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// scaledWeight is the weight as an integer number of hundredths
func scaledWeight(weight float64) int {
	return int(weight*wrrMultiplier + 0.5)
}

// assignCounters sets every queue's credits to its scaled weight divided by the
// gcd of all scaled weights, and starts a new round
func (wrr *WRR) assignCounters() {
	divisor := 0
	for _, entry := range wrr.entries {
		divisor = gcd(divisor, scaledWeight(entry.weight))
	}
	if divisor == 0 {
		divisor = 1
	}
	wrr.gcd = divisor
	wrr.serviceRound = 0
	for _, entry := range wrr.entries {
		entry.counter = scaledWeight(entry.weight) / divisor
		wrr.serviceRound += entry.counter
	}
}

// roundExhausted is true when no queue holding packets has credits left
func (wrr *WRR) roundExhausted() bool {
	for _, entry := range wrr.entries {
		if !entry.queue.IsEmpty() && entry.counter != 0 {
			return false
		}
	}
	return true
}

// Counters returns the credits left in the round, by priority
func (wrr *WRR) Counters() map[int]int {
	rtn := make(map[int]int)
	for _, entry := range wrr.entries {
		rtn[entry.priority] = entry.counter
	}
	return rtn
}

// ServiceRound returns the sum of the credits left in the round
func (wrr *WRR) ServiceRound() int {
	return wrr.serviceRound
}

func (wrr *WRR) Insert(pckt *Packet, priority int, now float64) bool {
	entry := wrr.entry(wrr.Classify(priority))
	if entry == nil {
		return true
	}
	return wrr.insertInto(entry, pckt, now, 0.0)
}

// selectQueue finds the queue position and packet position of the index-th packet
// in weighted round robin order.  A round is restarted whenever its credits run out,
// and also when a deep index cannot be reached with the credits that are left
func (wrr *WRR) selectQueue(index int) (int, int, bool) {
	if index >= wrr.available() {
		return -1, 0, false
	}
	numQueues := len(wrr.entries)
	if wrr.lastServed >= numQueues {
		wrr.lastServed = -1
	}

	qIdx := wrr.lastServed
	pcktIdx := 0
	found := 0
	restarted := false

	for checked := 1; ; checked++ {
		if wrr.serviceRound == 0 || wrr.roundExhausted() {
			wrr.assignCounters()
		}

		qIdx = (qIdx + 1) % numQueues
		entry := wrr.entries[qIdx]
		if !entry.queue.IsEmpty() && entry.queue.PacketsInQueue() > pcktIdx && entry.counter != 0 {
			if found == index {
				return qIdx, pcktIdx, true
			}
			found += 1
		}
		if checked%numQueues == 0 {
			pcktIdx += 1
		}

		// the credits left cannot reach this far, so scan again from the top with a fresh round
		if pcktIdx > index {
			if restarted {
				return -1, 0, false
			}
			restarted = true
			wrr.assignCounters()
			qIdx = wrr.lastServed
			pcktIdx = 0
			found = 0
			checked = 0
		}
	}
}

func (wrr *WRR) Retrieve(priority, index int, op QueueOp, now float64) (*Packet, int, bool) {
	if index < 0 || index >= wrr.NumberInQueue(priority) {
		return nil, AllPriorities, false
	}

	wrr.autoAssignWeights()
	if wrr.gcd == 0 {
		wrr.assignCounters()
	}

	var qIdx, pcktIdx int
	if priority == AllPriorities {
		var found bool
		qIdx, pcktIdx, found = wrr.selectQueue(index)
		if !found {
			return nil, AllPriorities, false
		}
	} else {
		qIdx, pcktIdx = wrr.entryIdx(priority), index
	}
	entry := wrr.entries[qIdx]

	if op == DequeuePacket {
		wrr.countDequeueRequests()
	}
	pckt, _, ok := wrr.retrieveFrom(entry, pcktIdx, op, now)
	if ok {
		switch op {
		case DequeuePacket:
			if entry.counter > 0 {
				entry.counter -= 1
				wrr.serviceRound -= 1
			}
			wrr.lastServed = qIdx
		case DropPacket, DiscardPacket:
			wrr.lastServed = -1
		}
	}
	return pckt, entry.priority, ok
}
