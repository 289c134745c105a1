package ifsched

// clock.go connects the schedulers to the discrete-event simulation.  The
// engine needs only to read the current time and to have a handler called
// after some delay, and gets both through EventClock.

import (
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// EventClock is the simulation time service the schedulers consume
type EventClock interface {
	// Now returns the current simulation time, in seconds
	Now() float64

	// ScheduleAfter arranges for handler(context, data) to be called delay seconds from now
	ScheduleAfter(delay float64, context any, data any, handler evtm.EventHandlerFunction)
}

// EvtMgrClock is the EventClock backed by an evtm.EventManager
type EvtMgrClock struct {
	evtMgr *evtm.EventManager
}

// CreateEvtMgrClock is a constructor
func CreateEvtMgrClock(evtMgr *evtm.EventManager) *EvtMgrClock {
	return &EvtMgrClock{evtMgr: evtMgr}
}

func (emc *EvtMgrClock) Now() float64 {
	return emc.evtMgr.CurrentSeconds()
}

func (emc *EvtMgrClock) ScheduleAfter(delay float64, context any, data any, handler evtm.EventHandlerFunction) {
	if delay < 0.0 {
		delay = 0.0
	}
	emc.evtMgr.Schedule(context, data, handler, vrtime.SecondsToTime(delay))
}

// EventManager exposes the underlying event manager, for components that schedule their own events
func (emc *EvtMgrClock) EventManager() *evtm.EventManager {
	return emc.evtMgr
}
