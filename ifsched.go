package ifsched

// ifsched.go holds the types shared by every scheduling discipline at an
// interface: packets, queue operations, queue behaviors, the selector strings
// used to name disciplines in configuration files, and the package logger.

import (
	"strconv"

	"go.uber.org/zap"
)

// AllPriorities is the sentinel priority that asks a query or a dequeue
// to consider every queue at the interface
const AllPriorities int = -1

// QueueOp names what a retrieve call does with the packet it locates
type QueueOp int

const (
	PeekAtNextPacket QueueOp = iota
	DequeuePacket
	DropPacket
	DiscardPacket
	DropAgedPacket
)

var qopToStr map[QueueOp]string = map[QueueOp]string{PeekAtNextPacket: "peek", DequeuePacket: "dequeue",
	DropPacket: "drop", DiscardPacket: "discard", DropAgedPacket: "drop-aged"}

func (op QueueOp) String() string {
	str, present := qopToStr[op]
	if !present {
		return "unknown"
	}
	return str
}

// removes is true for every operation that takes the packet out of its queue
func (op QueueOp) removes() bool {
	return op != PeekAtNextPacket
}

// QueueBehavior is the flag a scheduler flips on a queue to keep it
// from being selected for service
type QueueBehavior int

const (
	Resume QueueBehavior = iota
	Suspend
)

func (qb QueueBehavior) String() string {
	if qb == Suspend {
		return "SUSPEND"
	}
	return "RESUME"
}

// selector strings for the disciplines
const (
	StrictPriorityType  string = "STRICT-PRIORITY"
	RoundRobinType      string = "ROUND-ROBIN"
	WeightedRRType      string = "WEIGHTED-ROUND-ROBIN"
	WeightedFairType    string = "WEIGHTED-FAIR"
	SelfClockedFairType string = "SELF-CLOCKED-FAIR"
	CBQType             string = "CBQ"
	TwoTierType         string = "TWO-TIER"
)

// Packet is the unit of work the schedulers order. Size is in bytes.
type Packet struct {
	ID       int
	Size     int
	Priority int
	Payload  any
}

// nxtPcktID gives each packet created through CreatePacket a unique identity
var nxtPcktID int = 0

// CreatePacket is a constructor
func CreatePacket(size, priority int, payload any) *Packet {
	nxtPcktID += 1
	return &Packet{ID: nxtPcktID, Size: size, Priority: priority, Payload: payload}
}

// logger is used for diagnostics that are not part of a trace
var logger *zap.Logger = zap.NewNop()

// SetLogger replaces the package logger.  A nil argument restores the no-op logger
func SetLogger(lg *zap.Logger) {
	if lg == nil {
		lg = zap.NewNop()
	}
	logger = lg
}

// A valueStruct type holds three different types a value might have,
// typically only one of these is used, and which one is known by context
type valueStruct struct {
	intValue    int
	floatValue  float64
	stringValue string
	boolValue   bool
}

// stringToValueStruct takes a string from a parameter assignment
// and determines whether it is an integer, floating point, boolean, or a string
func stringToValueStruct(v string) valueStruct {
	vs := valueStruct{intValue: 0, floatValue: 0.0, stringValue: "", boolValue: false}

	// try conversion to int
	ivalue, ierr := strconv.Atoi(v)
	if ierr == nil {
		vs.intValue = ivalue
		vs.floatValue = float64(ivalue)
		vs.stringValue = v
		return vs
	}

	// failing that, try conversion to float
	fvalue, ferr := strconv.ParseFloat(v, 64)
	if ferr == nil {
		vs.floatValue = fvalue
		vs.stringValue = v
		return vs
	}

	// left with it being a string.  See if true, True
	if v == "true" || v == "True" {
		vs.boolValue = true
	}

	vs.stringValue = v
	return vs
}
