package ifsched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var basicKinds []string = []string{StrictPriorityType, RoundRobinType, WeightedRRType, WeightedFairType,
	SelfClockedFairType}

// fillQueue inserts n packets of the size at the priority
func fillQueue(t *testing.T, sched Scheduler, priority, n, size int) []*Packet {
	t.Helper()
	rtn := []*Packet{}
	for idx := 0; idx < n; idx++ {
		pckt := CreatePacket(size, priority, nil)
		require.False(t, sched.Insert(pckt, priority, 0.0), "insert at priority %d", priority)
		rtn = append(rtn, pckt)
	}
	return rtn
}

// createWithQueues builds a scheduler of the kind with a large queue at each priority
func createWithQueues(t *testing.T, kind string, priorities ...int) Scheduler {
	t.Helper()
	sched, err := CreateScheduler(kind)
	require.NoError(t, err)
	for _, priority := range priorities {
		_, err := sched.AddQueue(CreateFIFOQueue(1000000), priority, 1.0)
		require.NoError(t, err)
	}
	return sched
}

func TestClassifyFallback(t *testing.T) {
	for _, kind := range basicKinds {
		t.Run(kind, func(t *testing.T) {
			sched := createWithQueues(t, kind, 5, 0, 2)
			assert.Equal(t, []int{0, 2, 5}, sched.Priorities())
			assert.Equal(t, 2, sched.Classify(3))
			assert.Equal(t, 0, sched.Classify(0))
			assert.Equal(t, 0, sched.Classify(-1))
			assert.Equal(t, 5, sched.Classify(9))
			assert.Equal(t, 2, sched.Classify(2))
		})
	}

	empty, err := CreateScheduler(StrictPriorityType)
	require.NoError(t, err)
	assert.Equal(t, AllPriorities, empty.Classify(1))
	assert.True(t, empty.Insert(CreatePacket(10, 1, nil), 1, 0.0), "no queue to take the packet")
}

func TestCreateSchedulerUnknown(t *testing.T) {
	_, err := CreateScheduler("LOTTERY")
	assert.Error(t, err)
}

func TestAddQueue(t *testing.T) {
	for _, kind := range basicKinds {
		t.Run(kind, func(t *testing.T) {
			sched, err := CreateScheduler(kind)
			require.NoError(t, err)

			assigned, err := sched.AddQueue(CreateFIFOQueue(1000), AllPriorities, 1.0)
			require.NoError(t, err)
			assert.Equal(t, 0, assigned)

			assigned, err = sched.AddQueue(CreateFIFOQueue(1000), 4, 1.0)
			require.NoError(t, err)
			assert.Equal(t, 4, assigned)

			assigned, err = sched.AddQueue(CreateFIFOQueue(1000), AllPriorities, 1.0)
			require.NoError(t, err)
			assert.Equal(t, 5, assigned, "next free priority follows the highest")

			_, err = sched.AddQueue(CreateFIFOQueue(1000), 4, 1.0)
			assert.Error(t, err, "duplicate priority")
			_, err = sched.AddQueue(CreateFIFOQueue(1000), -3, 1.0)
			assert.Error(t, err, "negative priority")
			_, err = sched.AddQueue(CreateFIFOQueue(1000), 7, 0.0)
			assert.Error(t, err, "zero weight")
			_, err = sched.AddQueue(CreateFIFOQueue(1000), 7, 1.5)
			assert.Error(t, err, "weight above one")

			assert.Equal(t, []int{0, 4, 5}, sched.Priorities())
		})
	}
}

func TestRemoveQueue(t *testing.T) {
	for _, kind := range basicKinds {
		t.Run(kind, func(t *testing.T) {
			sched := createWithQueues(t, kind, 0, 1, 2)
			fillQueue(t, sched, 1, 2, 100)

			sched.RemoveQueue(7)
			assert.Equal(t, []int{0, 1, 2}, sched.Priorities())

			sched.RemoveQueue(1)
			assert.Equal(t, []int{0, 2}, sched.Priorities())
			assert.Equal(t, 0, sched.NumberInQueue(AllPriorities))
			assert.Equal(t, 0, sched.Classify(1))
		})
	}
}

func TestOccupancyQueries(t *testing.T) {
	sched := createWithQueues(t, StrictPriorityType, 0, 1)
	fillQueue(t, sched, 0, 2, 100)
	fillQueue(t, sched, 1, 1, 300)

	assert.Equal(t, 3, sched.NumberInQueue(AllPriorities))
	assert.Equal(t, 500, sched.BytesInQueue(AllPriorities))
	assert.Equal(t, 300, sched.BytesInQueue(1))
	assert.Equal(t, 0, sched.NumberInQueue(8))
	assert.Equal(t, 0, sched.BytesInQueue(8))
	assert.False(t, sched.IsEmpty(8), "absent priority is not reported empty")
	assert.False(t, sched.IsEmpty(AllPriorities))

	_, _, ok := sched.Retrieve(AllPriorities, 3, PeekAtNextPacket, 0.0)
	assert.False(t, ok)
	_, _, ok = sched.Retrieve(8, 0, PeekAtNextPacket, 0.0)
	assert.False(t, ok)
	_, _, ok = sched.Retrieve(0, -1, PeekAtNextPacket, 0.0)
	assert.False(t, ok)
}

func TestSwapQueueConservation(t *testing.T) {
	for _, kind := range basicKinds {
		t.Run(kind, func(t *testing.T) {
			sched := createWithQueues(t, kind, 0, 1)
			fillQueue(t, sched, 1, 5, 100)
			before := sched.NumberInQueue(1)

			require.NoError(t, sched.SwapQueue(CreateFIFOQueue(300), 1))

			var stats QueueStats
			for _, qs := range sched.Stats() {
				if qs.Priority == 1 {
					stats = qs
				}
			}
			assert.Equal(t, 3, sched.NumberInQueue(1))
			assert.Equal(t, before, sched.NumberInQueue(1)+stats.Dropped)
			assert.Equal(t, 3, stats.Enqueued)

			// the survivors still come out
			for idx := 0; idx < 3; idx++ {
				_, priority, ok := sched.Retrieve(AllPriorities, 0, DequeuePacket, 0.0)
				require.True(t, ok)
				assert.Equal(t, 1, priority)
			}
			assert.True(t, sched.IsEmpty(AllPriorities))
		})
	}
}

func TestSwapQueueAbsentPriority(t *testing.T) {
	sched := createWithQueues(t, RoundRobinType, 0)
	require.NoError(t, sched.SwapQueue(CreateFIFOQueue(300), 3))
	assert.Equal(t, []int{0, 3}, sched.Priorities())
	assert.Equal(t, 1.0, sched.Weight(3))
}

func TestQueueBehavior(t *testing.T) {
	for _, kind := range basicKinds {
		t.Run(kind, func(t *testing.T) {
			sched := createWithQueues(t, kind, 0, 1)
			fillQueue(t, sched, 0, 1, 100)
			fillQueue(t, sched, 1, 1, 100)

			sched.SetQueueBehavior(1, Suspend)
			assert.Equal(t, Suspend, sched.QueueBehavior(1))
			assert.True(t, sched.IsEmpty(1))

			_, priority, ok := sched.Retrieve(AllPriorities, 0, DequeuePacket, 0.0)
			require.True(t, ok)
			assert.Equal(t, 0, priority, "suspended queue is passed over")
			assert.True(t, sched.IsEmpty(AllPriorities))

			sched.SetQueueBehavior(AllPriorities, Resume)
			assert.Equal(t, Resume, sched.QueueBehavior(1))
			_, priority, ok = sched.Retrieve(AllPriorities, 0, DequeuePacket, 0.0)
			require.True(t, ok)
			assert.Equal(t, 1, priority)
		})
	}
}

func TestWeights(t *testing.T) {
	sched := createWithQueues(t, WeightedRRType, 0, 1)
	require.NoError(t, sched.SetRawWeight(0, 3.0))
	require.NoError(t, sched.SetRawWeight(1, 1.0))
	assert.Error(t, sched.SetRawWeight(0, -1.0))
	assert.Error(t, sched.SetRawWeight(4, 1.0))

	sched.NormalizeWeights()
	assert.InDelta(t, 0.75, sched.Weight(0), 1e-9)
	assert.InDelta(t, 0.25, sched.Weight(1), 1e-9)
	assert.Equal(t, 0.0, sched.Weight(4))
}

func TestRetrieveStats(t *testing.T) {
	sched := createWithQueues(t, StrictPriorityType, 0)
	fillQueue(t, sched, 0, 4, 100)

	_, _, ok := sched.Retrieve(0, 0, DequeuePacket, 0.0)
	require.True(t, ok)
	_, _, ok = sched.Retrieve(0, 0, DropPacket, 0.0)
	require.True(t, ok)
	_, _, ok = sched.Retrieve(0, 0, DropAgedPacket, 0.0)
	require.True(t, ok)
	_, _, ok = sched.Retrieve(0, 0, PeekAtNextPacket, 0.0)
	require.True(t, ok)

	stats := sched.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 4, stats[0].Enqueued)
	assert.Equal(t, 1, stats[0].Dequeued)
	assert.Equal(t, 100, stats[0].ServiceBytes)
	assert.Equal(t, 1, stats[0].Dropped)
	assert.Equal(t, 1, stats[0].DroppedAging)
	assert.Equal(t, 1, stats[0].DequeueRequests)
}
