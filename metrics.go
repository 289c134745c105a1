package ifsched

// metrics.go exports the per-queue statistics of a set of interface schedulers
// as Prometheus metrics.  Values are read from the schedulers at collection time.

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/slices"
)

const metricsNamespace = "ifsched"

// QueueLabels define the labels attached to every queue metric.
type QueueLabels struct {
	Intrfc   string
	Priority int
}

// Labels returns the list of labels.
func (l QueueLabels) Labels() []string {
	return []string{"intrfc", "priority"}
}

// Values returns the label values in the order defined by Labels.
func (l QueueLabels) Values() []string {
	return []string{l.Intrfc, strconv.Itoa(l.Priority)}
}

// SchedCollector is a prometheus.Collector over schedulers indexed by interface name
type SchedCollector struct {
	scheds map[string]Scheduler

	enqueued     *prometheus.Desc
	dequeued     *prometheus.Desc
	dropped      *prometheus.Desc
	serviceBytes *prometheus.Desc
	suspended    *prometheus.Desc
	queueBytes   *prometheus.Desc
	queuePackets *prometheus.Desc
}

func newQueueDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "queue", name), help,
		QueueLabels{}.Labels(), prometheus.Labels{})
}

// CreateSchedCollector is a constructor
func CreateSchedCollector(scheds map[string]Scheduler) *SchedCollector {
	return &SchedCollector{
		scheds:       scheds,
		enqueued:     newQueueDesc("enqueued_packets_total", "Packets accepted by the queue."),
		dequeued:     newQueueDesc("dequeued_packets_total", "Packets served from the queue."),
		dropped:      newQueueDesc("dropped_packets_total", "Packets dropped at or from the queue."),
		serviceBytes: newQueueDesc("service_bytes_total", "Bytes served from the queue."),
		suspended:    newQueueDesc("suspensions_total", "CBQ suspensions of the queue."),
		queueBytes:   newQueueDesc("bytes", "Bytes held in the queue."),
		queuePackets: newQueueDesc("packets", "Packets held in the queue."),
	}
}

func (sc *SchedCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range []*prometheus.Desc{sc.enqueued, sc.dequeued, sc.dropped, sc.serviceBytes,
		sc.suspended, sc.queueBytes, sc.queuePackets} {
		ch <- desc
	}
}

func (sc *SchedCollector) Collect(ch chan<- prometheus.Metric) {
	names := make([]string, 0, len(sc.scheds))
	for name := range sc.scheds {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		sched := sc.scheds[name]
		for _, qs := range sched.Stats() {
			values := QueueLabels{Intrfc: name, Priority: qs.Priority}.Values()
			ch <- prometheus.MustNewConstMetric(sc.enqueued, prometheus.CounterValue, float64(qs.Enqueued), values...)
			ch <- prometheus.MustNewConstMetric(sc.dequeued, prometheus.CounterValue, float64(qs.Dequeued), values...)
			ch <- prometheus.MustNewConstMetric(sc.dropped, prometheus.CounterValue,
				float64(qs.Dropped+qs.DroppedAging), values...)
			ch <- prometheus.MustNewConstMetric(sc.serviceBytes, prometheus.CounterValue,
				float64(qs.ServiceBytes), values...)
			ch <- prometheus.MustNewConstMetric(sc.suspended, prometheus.CounterValue, float64(qs.Suspended), values...)
			ch <- prometheus.MustNewConstMetric(sc.queueBytes, prometheus.GaugeValue,
				float64(sched.BytesInQueue(qs.Priority)), values...)
			ch <- prometheus.MustNewConstMetric(sc.queuePackets, prometheus.GaugeValue,
				float64(sched.NumberInQueue(qs.Priority)), values...)
		}
	}
}
