package ifsched

// link.go drives one output link with a Scheduler inside a discrete-event
// simulation.  Traffic sources insert packets at random or constant intervals,
// and whenever the link is idle the next packet chosen by the scheduler is put
// on the wire for its transmission time.

import (
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// trafficSource generates packets of one size for one priority
type trafficSource struct {
	priority int
	rate     float64 // packets per second
	size     int     // bytes

	// function that computes inter-arrival times.  First argument
	// is U01 random number, second argument is vector of parameters for distribution
	sampleNxtArrival func(float64, []float64) float64
}

// LinkDriver owns the Scheduler of one interface and the link it feeds
type LinkDriver struct {
	Name    string
	sched   Scheduler
	evtMgr  *evtm.EventManager
	bndwdth float64 // Mbps

	busy     bool    // a packet is being transmitted
	stopTime float64 // sources stop generating after this time, when positive

	sources []*trafficSource
	rngstrm *rngstream.RngStream

	// per-priority counts of what left the link, and of what arrived to a full queue
	Delivered      map[int]int
	DeliveredBytes map[int]int
	Rejected       map[int]int

	// per-priority sum of the time from arrival to the end of transmission
	TotalDelay map[int]float64
}

// CreateLinkDriver is a constructor.  If the scheduler is CBQ the driver registers itself
// to be told when a suspended queue becomes ready
func CreateLinkDriver(name string, sched Scheduler, evtMgr *evtm.EventManager, bndwdth float64) (*LinkDriver, error) {
	if sched == nil || evtMgr == nil {
		return nil, errors.Errorf("link %s needs a scheduler and an event manager", name)
	}
	if !(bndwdth > 0.0) {
		return nil, errors.Errorf("link %s bandwidth %v must be positive", name, bndwdth)
	}
	ld := new(LinkDriver)
	ld.Name = name
	ld.sched = sched
	ld.evtMgr = evtMgr
	ld.bndwdth = bndwdth
	ld.sources = make([]*trafficSource, 0)
	ld.rngstrm = rngstream.New(name)
	ld.Delivered = make(map[int]int)
	ld.DeliveredBytes = make(map[int]int)
	ld.Rejected = make(map[int]int)
	ld.TotalDelay = make(map[int]float64)

	if cbq, isCBQ := sched.(*CBQ); isCBQ {
		cbq.SetReadyNotifier(ld.queueReady)
	}
	return ld, nil
}

// AddSource adds a source of packets of the given size (bytes) for the priority, arriving
// at rate packets per second.  dist selects the inter-arrival distribution
func (ld *LinkDriver) AddSource(priority int, rate float64, size int, dist string) error {
	if !(rate > 0.0) || size < 1 {
		return errors.Errorf("link %s source needs positive rate and size, given %v and %d", ld.Name, rate, size)
	}
	src := &trafficSource{priority: priority, rate: rate, size: size}
	switch dist {
	case "exponential", "exp", "expon":
		src.sampleNxtArrival = sampleExpRV
	case "constant", "const":
		src.sampleNxtArrival = sampleConst
	default:
		return errors.Errorf("link %s source distribution %q not recognized", ld.Name, dist)
	}
	ld.sources = append(ld.sources, src)
	return nil
}

// Start schedules the first arrival of every source.  Sources stop at stopTime, when it is positive
func (ld *LinkDriver) Start(stopTime float64) {
	ld.stopTime = stopTime
	for idx := range ld.sources {
		ld.evtMgr.Schedule(ld, idx, linkPcktArrival, vrtime.SecondsToTime(0.0))
	}
	logger.Info("link started", zap.String("link", ld.Name), zap.Int("sources", len(ld.sources)),
		zap.String("scheduler", ld.sched.Kind()))
}

// Scheduler returns the scheduler feeding the link
func (ld *LinkDriver) Scheduler() Scheduler {
	return ld.sched
}

// Busy is true while a packet is on the wire
func (ld *LinkDriver) Busy() bool {
	return ld.busy
}

// txTime is the number of seconds a packet of size bytes takes to leave
func (ld *LinkDriver) txTime(size int) float64 {
	return float64(size*8) / (ld.bndwdth * 1e6)
}

// AvgDelay returns the mean arrival-to-departure time of the priority's delivered packets
func (ld *LinkDriver) AvgDelay(priority int) float64 {
	if ld.Delivered[priority] == 0 {
		return 0.0
	}
	return ld.TotalDelay[priority] / float64(ld.Delivered[priority])
}

// linkPcktArrival is the event handler for a source's packet arrival.  The context
// is the LinkDriver and the data is the index of the source
func linkPcktArrival(evtMgr *evtm.EventManager, context any, data any) any {
	ld := context.(*LinkDriver)
	src := ld.sources[data.(int)]
	now := evtMgr.CurrentSeconds()

	if ld.stopTime > 0.0 && now > ld.stopTime {
		return nil
	}

	// schedule the next arrival
	u01 := ld.rngstrm.RandU01()
	interarrival := src.sampleNxtArrival(u01, []float64{src.rate})
	evtMgr.Schedule(context, data, linkPcktArrival, vrtime.SecondsToTime(interarrival))

	pckt := CreatePacket(src.size, src.priority, now)
	full := ld.sched.Insert(pckt, src.priority, now)
	if full {
		ld.Rejected[src.priority] += 1
		return nil
	}
	ld.tryTransmit(now)
	return nil
}

// tryTransmit puts the next packet on the link if the link is idle
func (ld *LinkDriver) tryTransmit(now float64) {
	if ld.busy || ld.sched.IsEmpty(AllPriorities) {
		return
	}
	pckt, priority, ok := ld.sched.Retrieve(AllPriorities, 0, DequeuePacket, now)
	if !ok {
		return
	}
	ld.busy = true
	ld.evtMgr.Schedule(ld, departure{pckt: pckt, priority: priority}, linkTxComplete,
		vrtime.SecondsToTime(ld.txTime(pckt.Size)))
}

// departure is carried by the event marking the end of a transmission
type departure struct {
	pckt     *Packet
	priority int
}

// linkTxComplete is the event handler for the end of a transmission
func linkTxComplete(evtMgr *evtm.EventManager, context any, data any) any {
	ld := context.(*LinkDriver)
	dep := data.(departure)
	now := evtMgr.CurrentSeconds()

	ld.busy = false
	ld.Delivered[dep.priority] += 1
	ld.DeliveredBytes[dep.priority] += dep.pckt.Size
	if arrival, isTime := dep.pckt.Payload.(float64); isTime {
		ld.TotalDelay[dep.priority] += now - arrival
	}
	ld.tryTransmit(now)
	return nil
}

// queueReady is called by a CBQ manager when a suspended queue with packets wakes up
func (ld *LinkDriver) queueReady(priority int) {
	ld.tryTransmit(ld.evtMgr.CurrentSeconds())
}

// expRV returns a sample of a exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// sampleExpRV has the function signature expected by trafficSource
// for calling a next interarrival time
func sampleExpRV(u01 float64, params []float64) float64 {
	return expRV(u01, params[0])
}

// sampleConst has the function signature expected by trafficSource
// for calling a next interarrival time, here, a constant
func sampleConst(u01 float64, params []float64) float64 {
	return 1.0 / params[0]
}
