package ifsched

// queue.go defines the contract a scheduler consumes from the per-priority
// packet buffers it manages, and FIFOQueue, a drop-tail buffer with a byte
// capacity that satisfies it.

import "golang.org/x/exp/slices"

// Queue is the storage behind one priority at an interface.  The scheduler
// references queues, it does not own their admission policy.
type Queue interface {
	// Insert appends the packet, stamped with the insertion time and a service tag.
	// The return is true if the queue was full and the packet was not admitted
	Insert(pckt *Packet, now float64, tag float64) bool

	// Retrieve applies op to the packet at position index.  A peek returns the packet and
	// its tag; a removal returns the packet and the tag of the packet now at the head
	Retrieve(index int, op QueueOp, now float64) (*Packet, float64, bool)

	IsEmpty() bool
	PacketsInQueue() int
	BytesInQueue() int
	Capacity() int

	Behavior() QueueBehavior
	SetBehavior(qb QueueBehavior)

	InsertTime(index int) float64

	// SetServiceTag overwrites the tag of the most recently inserted packet
	SetServiceTag(tag float64)

	// Replicate copies the packets of old, in order, returning the number that did not fit
	Replicate(old Queue) int
}

// fifoEntry wraps a packet with the bookkeeping the queue keeps for it
type fifoEntry struct {
	pckt       *Packet
	insertTime float64
	tag        float64
}

// FIFOQueue is a first-in first-out packet buffer limited by bytes
type FIFOQueue struct {
	capacity  int // bytes
	bytesUsed int
	behavior  QueueBehavior
	entries   []*fifoEntry
}

// CreateFIFOQueue is a constructor.  capacity is in bytes
func CreateFIFOQueue(capacity int) *FIFOQueue {
	fq := new(FIFOQueue)
	fq.capacity = capacity
	fq.behavior = Resume
	fq.entries = make([]*fifoEntry, 0)
	return fq
}

func (fq *FIFOQueue) Insert(pckt *Packet, now float64, tag float64) bool {
	if pckt.Size > fq.capacity-fq.bytesUsed {
		return true
	}
	fq.entries = append(fq.entries, &fifoEntry{pckt: pckt, insertTime: now, tag: tag})
	fq.bytesUsed += pckt.Size
	return false
}

func (fq *FIFOQueue) Retrieve(index int, op QueueOp, now float64) (*Packet, float64, bool) {
	if fq.behavior == Suspend || index < 0 || index >= len(fq.entries) {
		return nil, 0.0, false
	}
	entry := fq.entries[index]
	if !op.removes() {
		return entry.pckt, entry.tag, true
	}

	fq.entries = slices.Delete(fq.entries, index, index+1)
	fq.bytesUsed -= entry.pckt.Size

	var headTag float64
	if len(fq.entries) > 0 {
		headTag = fq.entries[0].tag
	}
	return entry.pckt, headTag, true
}

// IsEmpty reports a suspended queue as empty, so that it is passed over by selection
func (fq *FIFOQueue) IsEmpty() bool {
	return fq.behavior == Suspend || len(fq.entries) == 0
}

func (fq *FIFOQueue) PacketsInQueue() int {
	return len(fq.entries)
}

func (fq *FIFOQueue) BytesInQueue() int {
	return fq.bytesUsed
}

func (fq *FIFOQueue) Capacity() int {
	return fq.capacity
}

func (fq *FIFOQueue) Behavior() QueueBehavior {
	return fq.behavior
}

func (fq *FIFOQueue) SetBehavior(qb QueueBehavior) {
	fq.behavior = qb
}

// InsertTime returns the time the packet at index joined the queue, or -1 if there is no such packet
func (fq *FIFOQueue) InsertTime(index int) float64 {
	if index < 0 || index >= len(fq.entries) {
		return -1.0
	}
	return fq.entries[index].insertTime
}

func (fq *FIFOQueue) SetServiceTag(tag float64) {
	if len(fq.entries) > 0 {
		fq.entries[len(fq.entries)-1].tag = tag
	}
}

func (fq *FIFOQueue) Replicate(old Queue) int {
	extra := 0

	// a suspended queue refuses peeks, so open it for the copy
	behavior := old.Behavior()
	old.SetBehavior(Resume)
	defer old.SetBehavior(behavior)

	for idx := 0; idx < old.PacketsInQueue(); idx++ {
		pckt, tag, ok := old.Retrieve(idx, PeekAtNextPacket, 0.0)
		if !ok {
			break
		}
		if fq.Insert(pckt, old.InsertTime(idx), tag) {
			extra += 1
		}
	}
	return extra
}
