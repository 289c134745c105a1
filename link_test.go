package ifsched

import (
	"testing"

	"github.com/iti/evt/evtm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkDriverStrictPriority(t *testing.T) {
	sched := CreateStrictPriority()
	for _, priority := range []int{0, 1} {
		_, err := sched.AddQueue(CreateFIFOQueue(2000000), priority, 1.0)
		require.NoError(t, err)
	}

	evtMgr := evtm.New()
	ld, err := CreateLinkDriver("strict-link", sched, evtMgr, 10.0)
	require.NoError(t, err)

	// 8 Mbps at priority 0 and 4 Mbps at priority 1 overload the 10 Mbps link
	require.NoError(t, ld.AddSource(0, 1000.0, 1000, "const"))
	require.NoError(t, ld.AddSource(1, 500.0, 1000, "constant"))
	ld.Start(1.0)
	evtMgr.Run(5.0)

	assert.InDelta(t, 1001, ld.Delivered[0], 2)
	assert.InDelta(t, 501, ld.Delivered[1], 2)
	assert.Equal(t, 1000*ld.Delivered[0], ld.DeliveredBytes[0])
	assert.Empty(t, ld.Rejected)

	assert.Greater(t, ld.AvgDelay(1), 0.0)
	assert.Less(t, ld.AvgDelay(1), ld.AvgDelay(0))
	assert.Equal(t, 0.0, ld.AvgDelay(7))

	assert.True(t, ld.Scheduler().IsEmpty(AllPriorities))
	assert.False(t, ld.Busy())
}

func TestLinkDriverRejects(t *testing.T) {
	sched := CreateRoundRobin()
	_, err := sched.AddQueue(CreateFIFOQueue(3000), 0, 1.0)
	require.NoError(t, err)

	evtMgr := evtm.New()
	ld, err := CreateLinkDriver("slow-link", sched, evtMgr, 1.0)
	require.NoError(t, err)

	// 1000 byte packets take 8 ms, arrivals come every millisecond
	require.NoError(t, ld.AddSource(0, 1000.0, 1000, "const"))
	ld.Start(0.1)
	evtMgr.Run(1.0)

	assert.Greater(t, ld.Rejected[0], 0)
	assert.Greater(t, ld.Delivered[0], 0)
	stats := sched.Stats()[0]
	assert.Equal(t, stats.Enqueued, ld.Delivered[0])
	assert.Equal(t, stats.Dropped, ld.Rejected[0])
}

func TestLinkDriverCBQ(t *testing.T) {
	desc := CreateIntrfcSchedDesc("cbq-link", 0, 0, 1, CBQType, 10.0)
	desc.AddQueue(0, 1.0, 2000000)
	desc.AddQueue(1, 1.0, 2000000)
	desc.CBQ = &CBQDesc{Guideline: AncestorOnlyGuideline, General: PRRGeneral, LinkSharing: []string{
		"ANY ANY root, A 0.5 0 0, B 0.5 0 0",
		"ANY ANY A, 1 1.0 0 0",
		"ANY ANY B, 0 1.0 0 0",
	}}

	evtMgr := evtm.New()
	sched, err := BuildIntrfcScheduler(desc, CreateEvtMgrClock(evtMgr))
	require.NoError(t, err)
	ld, err := CreateLinkDriver("cbq-link", sched, evtMgr, desc.Bndwdth)
	require.NoError(t, err)

	// each application offers 8 Mbps against a 5 Mbps share
	require.NoError(t, ld.AddSource(0, 1000.0, 1000, "exp"))
	require.NoError(t, ld.AddSource(1, 1000.0, 1000, "exp"))
	ld.Start(1.0)
	evtMgr.Run(10.0)

	assert.Greater(t, ld.Delivered[0], 100)
	assert.Greater(t, ld.Delivered[1], 100)

	suspended := 0
	for _, qs := range sched.Stats() {
		suspended += qs.Suspended
	}
	assert.Greater(t, suspended, 0)
	assert.True(t, sched.IsEmpty(AllPriorities))
	assert.Equal(t, 0, sched.NumberInQueue(AllPriorities))
}

func TestLinkDriverErrors(t *testing.T) {
	evtMgr := evtm.New()
	_, err := CreateLinkDriver("nil", nil, evtMgr, 10.0)
	assert.Error(t, err)
	_, err = CreateLinkDriver("zero", CreateStrictPriority(), evtMgr, 0.0)
	assert.Error(t, err)

	ld, err := CreateLinkDriver("ok", CreateStrictPriority(), evtMgr, 10.0)
	require.NoError(t, err)
	assert.Error(t, ld.AddSource(0, 0.0, 100, "exp"))
	assert.Error(t, ld.AddSource(0, 10.0, 0, "exp"))
	assert.Error(t, ld.AddSource(0, 10.0, 100, "pareto"))
}

func TestInterarrivalSamples(t *testing.T) {
	assert.Equal(t, 0.01, sampleConst(0.3, []float64{100.0}))
	assert.Equal(t, 0.0, sampleExpRV(0.0, []float64{100.0}))
	assert.InDelta(t, 0.01, sampleExpRV(1.0-0.36787944117144233, []float64{100.0}), 1e-12)
}
