package kernel

import (
	"github.com/prkty/kpintos/kerr"
)

// Status is the lifecycle state of a Thread.
type Status int

const (
	StatusBlocked Status = iota
	StatusReady
	StatusRunning
	StatusDying
)

func (s Status) String() string {
	switch s {
	case StatusBlocked:
		return "BLOCKED"
	case StatusReady:
		return "READY"
	case StatusRunning:
		return "RUNNING"
	case StatusDying:
		return "DYING"
	default:
		return "UNKNOWN"
	}
}

// Priority bounds and scheduling constants. These mirror the reference
// kernel's PRI_MIN/PRI_DEFAULT/PRI_MAX/TIME_SLICE/donation-depth constants.
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63

	// TimeSlice is the number of ticks a thread may hold the CPU before
	// preemption is requested.
	TimeSlice = 4

	// donationDepthBound caps the number of hops walked when propagating a
	// priority donation up a waiting_on_lock -> owner chain, guaranteeing
	// termination even if the chain is pathologically long or cyclic.
	donationDepthBound = 8

	// threadMagic is the stack-overflow canary value stored in every live
	// thread record.
	threadMagic = 0xcd6abf4b
)

// Thread is a single schedulable unit of execution. A Thread's fields that
// are read or mutated by more than its own goroutine are only ever
// accessed while the owning Kernel's mu is held, standing in for the
// original's interrupt-mask discipline.
type Thread struct {
	tid          int
	name         string
	status       Status
	priority     int
	basePriority int

	niceness  int
	recentCPU Fixed

	wakeTick int64

	waitingOn *Lock
	donations []donation

	magic uint32
	seq   uint64

	entry func(aux interface{})
	aux   interface{}

	// resume is signalled by the dispatcher exactly when this thread has
	// been selected to run; the thread's own goroutine parks on a receive
	// from this channel whenever it is not RUNNING.
	resume chan struct{}
}

// Tid returns the thread's unique, monotonically assigned identifier.
func (t *Thread) Tid() int { return t.tid }

// Name returns the thread's diagnostic name.
func (t *Thread) Name() string { return t.name }

// Status returns the thread's current lifecycle state.
func (t *Thread) Status() Status {
	return t.status
}

// Priority returns the thread's current effective priority.
func (t *Thread) Priority() int {
	return t.priority
}

// BasePriority returns the priority the thread itself last set, ignoring
// any active donations.
func (t *Thread) BasePriority() int {
	return t.basePriority
}

// checkMagic panics if the thread record's stack-overflow canary has been
// corrupted, mirroring the original's magic-sentinel check performed on
// every thread lookup.
func (t *Thread) checkMagic() {
	if t.magic != threadMagic {
		kerr.Fatal("kernel: thread %q (tid %d): magic sentinel corrupted, stack overflow suspected", t.name, t.tid)
	}
}

func newThread(tid int, name string, priority int) *Thread {
	if priority < PriMin || priority > PriMax {
		kerr.Fatal("kernel: priority %d out of range [%d, %d]", priority, PriMin, PriMax)
	}
	return &Thread{
		tid:          tid,
		name:         name,
		priority:     priority,
		basePriority: priority,
		magic:        threadMagic,
		resume:       make(chan struct{}, 1),
	}
}
