package kernel_test

import (
	"testing"

	"github.com/prkty/kpintos/kerr"
	"github.com/prkty/kpintos/kernel"
)

func TestCreateRunsAtSamePriorityOnlyAfterYield(t *testing.T) {
	k := kernel.New(kernel.ModePriority)
	done := make(chan struct{})
	k.Create("worker", kernel.PriDefault, func(interface{}) {
		close(done)
	}, nil)

	select {
	case <-done:
		t.Fatal("same-priority worker ran before caller yielded")
	default:
	}

	k.Yield()

	select {
	case <-done:
	default:
		t.Fatal("worker did not run after yield")
	}
}

// TestPriorityPreemption is scenario 2 from the reference walkthrough: a
// thread created at a strictly higher priority than its creator runs to
// completion before create returns.
func TestPriorityPreemption(t *testing.T) {
	k := kernel.New(kernel.ModePriority)
	ran := make(chan string, 1)

	k.Create("H", kernel.PriDefault+3, func(interface{}) {
		ran <- "H"
	}, nil)

	select {
	case name := <-ran:
		if name != "H" {
			t.Fatalf("got %q, want H", name)
		}
	default:
		t.Fatal("H did not run to completion before Create returned")
	}
}

func TestYieldFIFOOrderingAmongEqualPriority(t *testing.T) {
	k := kernel.New(kernel.ModePriority)
	var log []string

	for _, name := range []string{"t1", "t2", "t3"} {
		name := name
		k.Create(name, kernel.PriDefault, func(interface{}) {
			log = append(log, name)
		}, nil)
	}

	k.Yield()

	want := []string{"t1", "t2", "t3"}
	if len(log) != len(want) {
		t.Fatalf("got %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("got %v, want %v", log, want)
		}
	}
}

func TestUnblockMakesReadyButDoesNotPreempt(t *testing.T) {
	k := kernel.New(kernel.ModePriority)
	started := make(chan struct{})
	done := make(chan struct{})

	th, _ := k.Create("blocker", kernel.PriDefault+1, func(interface{}) {
		close(started)
		k.Block()
		close(done)
	}, nil)

	select {
	case <-started:
	default:
		t.Fatal("blocker never ran")
	}
	if got := th.Status(); got != kernel.StatusBlocked {
		t.Fatalf("got status %v, want BLOCKED", got)
	}

	k.Unblock(th)

	select {
	case <-done:
		t.Fatal("unblock preempted the calling thread on its own")
	default:
	}

	k.Yield()

	select {
	case <-done:
	default:
		t.Fatal("blocker never resumed after being unblocked and the caller yielded")
	}
}

func TestSetPriorityLowerThanReadyThreadYields(t *testing.T) {
	k := kernel.New(kernel.ModePriority)
	ran := make(chan struct{})
	k.Create("waiting", kernel.PriDefault, func(interface{}) {
		close(ran)
	}, nil)

	select {
	case <-ran:
		t.Fatal("equal-priority thread ran before any yield")
	default:
	}

	k.SetPriority(kernel.PriDefault - 1)

	select {
	case <-ran:
	default:
		t.Fatal("lowering priority below a ready thread did not yield to it")
	}
}

// TestCreateReportsResourceExhaustion exercises the one condition
// spec.md's error-handling section treats as recoverable: once the tid
// space is exhausted, Create returns kerr.ErrResourceExhausted instead of
// panicking, and leaves no partial thread behind.
func TestCreateReportsResourceExhaustion(t *testing.T) {
	// New() allocates exactly two tids (idle, main) before this test ever
	// calls Create, so pinning MaxThreads at 2 guarantees the very next
	// allocation is exhausted.
	saved := kernel.MaxThreads
	kernel.MaxThreads = 2
	defer func() { kernel.MaxThreads = saved }()

	k := kernel.New(kernel.ModePriority)

	th, err := k.Create("overflow", kernel.PriDefault, func(interface{}) {}, nil)
	if err != kerr.ErrResourceExhausted {
		t.Fatalf("got err=%v, want kerr.ErrResourceExhausted", err)
	}
	if th != nil {
		t.Fatalf("got non-nil thread on exhaustion: %v", th)
	}
}
