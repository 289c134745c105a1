package ifsched

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedCollector(t *testing.T) {
	strict := createWithQueues(t, StrictPriorityType, 0, 1)
	fillQueue(t, strict, 0, 3, 100)
	fillQueue(t, strict, 1, 1, 500)
	_, _, ok := strict.Retrieve(AllPriorities, 0, DequeuePacket, 0.0)
	require.True(t, ok)

	rr := createWithQueues(t, RoundRobinType, 4)
	collector := CreateSchedCollector(map[string]Scheduler{"eth0": strict, "eth1": rr})

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(collector))

	// seven metrics for each of three queues
	assert.Equal(t, 21, testutil.CollectAndCount(collector))

	want := `
		# HELP ifsched_queue_dequeued_packets_total Packets served from the queue.
		# TYPE ifsched_queue_dequeued_packets_total counter
		ifsched_queue_dequeued_packets_total{intrfc="eth0",priority="0"} 0
		ifsched_queue_dequeued_packets_total{intrfc="eth0",priority="1"} 1
		ifsched_queue_dequeued_packets_total{intrfc="eth1",priority="4"} 0
		# HELP ifsched_queue_bytes Bytes held in the queue.
		# TYPE ifsched_queue_bytes gauge
		ifsched_queue_bytes{intrfc="eth0",priority="0"} 300
		ifsched_queue_bytes{intrfc="eth0",priority="1"} 0
		ifsched_queue_bytes{intrfc="eth1",priority="4"} 0
	`
	err := testutil.GatherAndCompare(reg, strings.NewReader(want),
		"ifsched_queue_dequeued_packets_total", "ifsched_queue_bytes")
	assert.NoError(t, err)
}

func TestQueueLabels(t *testing.T) {
	l := QueueLabels{Intrfc: "eth2", Priority: 7}
	assert.Equal(t, []string{"intrfc", "priority"}, l.Labels())
	assert.Equal(t, []string{"eth2", "7"}, l.Values())
}
