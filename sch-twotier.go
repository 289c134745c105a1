package ifsched

// sch-twotier.go holds a composite scheduler that splits the priorities at an
// interface into two classes of service, each served by its own discipline.
// The high tier is served strictly before the low tier.

import (
	"github.com/pkg/errors"
)

// TwoTier routes priorities at or above boundary to the high tier scheduler and
// the rest to the low tier scheduler
type TwoTier struct {
	boundary int
	low      Scheduler
	high     Scheduler
}

// CreateTwoTier is a constructor.  Neither tier may itself be a TwoTier
func CreateTwoTier(boundary int, low, high Scheduler) (*TwoTier, error) {
	if low == nil || high == nil {
		return nil, errors.New("TWO-TIER: both tiers need a scheduler")
	}
	if low.Kind() == TwoTierType || high.Kind() == TwoTierType {
		return nil, errors.New("TWO-TIER: tiers may not be composite")
	}
	return &TwoTier{boundary: boundary, low: low, high: high}, nil
}

func (tt *TwoTier) Kind() string {
	return TwoTierType
}

// tier returns the scheduler responsible for the priority
func (tt *TwoTier) tier(priority int) Scheduler {
	if priority >= tt.boundary {
		return tt.high
	}
	return tt.low
}

// Tiers returns the low and high tier schedulers
func (tt *TwoTier) Tiers() (Scheduler, Scheduler) {
	return tt.low, tt.high
}

func (tt *TwoTier) Insert(pckt *Packet, priority int, now float64) bool {
	target := tt.Classify(priority)
	if target == AllPriorities {
		return true
	}
	return tt.tier(target).Insert(pckt, target, now)
}

// Retrieve with AllPriorities addresses the packets of the high tier first,
// then those of the low tier
func (tt *TwoTier) Retrieve(priority, index int, op QueueOp, now float64) (*Packet, int, bool) {
	if priority != AllPriorities {
		return tt.tier(priority).Retrieve(priority, index, op, now)
	}
	if index < 0 {
		return nil, AllPriorities, false
	}
	// packets held in suspended high tier queues cannot be addressed
	highCount := 0
	for _, p := range tt.high.Priorities() {
		if !tt.high.IsEmpty(p) {
			highCount += tt.high.NumberInQueue(p)
		}
	}
	if index < highCount {
		return tt.high.Retrieve(AllPriorities, index, op, now)
	}
	return tt.low.Retrieve(AllPriorities, index-highCount, op, now)
}

func (tt *TwoTier) IsEmpty(priority int) bool {
	if priority == AllPriorities {
		return tt.high.IsEmpty(AllPriorities) && tt.low.IsEmpty(AllPriorities)
	}
	return tt.tier(priority).IsEmpty(priority)
}

func (tt *TwoTier) BytesInQueue(priority int) int {
	if priority == AllPriorities {
		return tt.high.BytesInQueue(AllPriorities) + tt.low.BytesInQueue(AllPriorities)
	}
	return tt.tier(priority).BytesInQueue(priority)
}

func (tt *TwoTier) NumberInQueue(priority int) int {
	if priority == AllPriorities {
		return tt.high.NumberInQueue(AllPriorities) + tt.low.NumberInQueue(AllPriorities)
	}
	return tt.tier(priority).NumberInQueue(priority)
}

func (tt *TwoTier) AddQueue(queue Queue, priority int, weight float64) (int, error) {
	if priority == AllPriorities {
		return AllPriorities, errors.New("TWO-TIER: queues need an explicit priority")
	}
	for _, p := range tt.Priorities() {
		if p == priority {
			return AllPriorities, errors.Errorf("TWO-TIER: priority %d already has a queue", priority)
		}
	}
	return tt.tier(priority).AddQueue(queue, priority, weight)
}

func (tt *TwoTier) RemoveQueue(priority int) {
	tt.tier(priority).RemoveQueue(priority)
}

func (tt *TwoTier) SwapQueue(queue Queue, priority int) error {
	return tt.tier(priority).SwapQueue(queue, priority)
}

// Classify applies the nearest-lower rule over the priorities of both tiers
func (tt *TwoTier) Classify(priority int) int {
	priorities := tt.Priorities()
	if len(priorities) == 0 {
		return AllPriorities
	}
	for idx := len(priorities) - 1; idx > -1; idx-- {
		if priorities[idx] <= priority {
			return priorities[idx]
		}
	}
	return priorities[0]
}

func (tt *TwoTier) SetQueueBehavior(priority int, qb QueueBehavior) {
	if priority == AllPriorities {
		tt.high.SetQueueBehavior(AllPriorities, qb)
		tt.low.SetQueueBehavior(AllPriorities, qb)
		return
	}
	tt.tier(priority).SetQueueBehavior(priority, qb)
}

func (tt *TwoTier) QueueBehavior(priority int) QueueBehavior {
	return tt.tier(priority).QueueBehavior(priority)
}

func (tt *TwoTier) SetRawWeight(priority int, weight float64) error {
	return tt.tier(priority).SetRawWeight(priority, weight)
}

// NormalizeWeights normalizes within each tier
func (tt *TwoTier) NormalizeWeights() {
	tt.high.NormalizeWeights()
	tt.low.NormalizeWeights()
}

func (tt *TwoTier) Weight(priority int) float64 {
	return tt.tier(priority).Weight(priority)
}

// Priorities lists the priorities of both tiers, ascending
func (tt *TwoTier) Priorities() []int {
	rtn := tt.low.Priorities()
	return append(rtn, tt.high.Priorities()...)
}

func (tt *TwoTier) Stats() []QueueStats {
	rtn := tt.low.Stats()
	return append(rtn, tt.high.Stats()...)
}

func (tt *TwoTier) SetTrace(tm *TraceManager, objID int) {
	tt.high.SetTrace(tm, objID)
	tt.low.SetTrace(tm, objID)
}
