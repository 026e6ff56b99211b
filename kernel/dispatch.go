package kernel

import (
	"context"
	"sync"

	"github.com/prkty/kpintos/internal/metrics"
	"github.com/prkty/kpintos/internal/phasetrace"
	"github.com/prkty/kpintos/internal/trace"
	"github.com/prkty/kpintos/kerr"
	"github.com/prkty/kpintos/kvlog"
)

// traceCtx carries the single background context used to record opencensus
// stats from the dispatcher's hot paths, which have no per-call context of
// their own to thread through.
var traceCtx = context.Background()

// Mode selects whether effective priority is set explicitly (and subject
// to donation) or derived by the MLFQS governor.
type Mode int

const (
	// ModePriority is the default scheduler: explicit priorities, subject
	// to donation.
	ModePriority Mode = iota
	// ModeMLFQS derives priority from recent_cpu and niceness; the
	// explicit setters become no-ops and donation is inert.
	ModeMLFQS
)

// Kernel holds all of the process-wide scheduler singletons described by
// the data model: the ready structure, the sleep structure, the
// destruction-request list, the all-threads list (MLFQS only), the tid
// allocator, the tick count and the MLFQS load average. A Kernel value is
// not a global — tests construct independent instances — but within a
// given simulated boot there is exactly one, exactly as the original
// kernel has exactly one of each of these structures for the lifetime of
// the machine.
type Kernel struct {
	// mu stands in for the interrupt-enable flag: every operation that
	// touches scheduler-shared state acquires it (disable), mutates state,
	// and releases it (restore), exactly bracketing one critical section.
	// It is never held across a blocking call other than schedule's own
	// internal handoff.
	mu sync.Mutex

	tidMu   sync.Mutex
	nextTid int

	mode Mode

	ready     []*Thread
	sleeping  []*Thread
	destroyed []*Thread
	all       []*Thread // populated only under ModeMLFQS

	current *Thread
	idle    *Thread

	ticks        int64
	timerFreq    int64
	sliceCounter int

	// inInterrupt and yieldRequested implement the tick handler's
	// yield-on-return-from-interrupt protocol: code running as part of
	// Tick must not yield directly, so it sets yieldRequested and the
	// driver of the simulated tick source calls ReturnFromInterrupt once
	// Tick returns.
	inInterrupt    bool
	yieldRequested bool

	loadAvg Fixed

	// idleTicks and activeTicks partition every tick seen by Tick between
	// those where the idle thread was current and those where some other
	// thread was running, mirroring the reference kernel's per-category
	// tick counters (it also splits kernel vs. user ticks, a distinction
	// this simulation has no use for since it models no user processes).
	idleTicks, activeTicks int64

	seqCounter uint64

	// lastTick is the phase breakdown of the most recently completed
	// Tick call, kept for diagnostics (LastTickTrace). It is overwritten
	// every tick, not accumulated.
	lastTick phasetrace.Timer

	// contextSwitches counts dispatcher handoffs between distinct threads,
	// mirroring the count metrics.IncContextSwitches reports to
	// Prometheus, but readable directly by callers (such as the Cloud
	// Monitoring push path) that have no scrape endpoint to read it back
	// from.
	contextSwitches int64
}

// New constructs a Kernel in the given scheduler mode, with the idle
// thread and a "main" thread already running — the main thread is
// whichever goroutine calls New, exactly as the real kernel's boot thread
// is the one that happens to be executing when paging and the scheduler
// data structures are initialized.
func New(mode Mode) *Kernel {
	k := &Kernel{mode: mode, timerFreq: 100}

	idleTid, err := k.allocTid()
	if err != nil {
		kerr.Fatal("kernel: could not allocate tid for idle thread: %v", err)
	}
	k.idle = newThread(idleTid, "idle", PriMin)
	go k.runIdle()

	mainTid, err := k.allocTid()
	if err != nil {
		kerr.Fatal("kernel: could not allocate tid for main thread: %v", err)
	}
	main := newThread(mainTid, "main", PriDefault)
	main.status = StatusRunning
	if mode == ModeMLFQS {
		k.all = append(k.all, main, k.idle)
	}
	k.current = main
	return k
}

// MaxThreads bounds the tid space, standing in for the reference kernel's
// fixed-size thread table: once this many threads have been allocated
// over the Kernel's lifetime, allocTid reports resource exhaustion rather
// than ever reusing or wrapping a tid. It is a package variable, not a
// per-Kernel field, purely so tests can lower it to exercise the
// exhaustion path without allocating a million throwaway threads.
var MaxThreads = 1 << 20

func (k *Kernel) allocTid() (int, error) {
	k.tidMu.Lock()
	defer k.tidMu.Unlock()
	if k.nextTid >= MaxThreads {
		return 0, kerr.ErrResourceExhausted
	}
	k.nextTid++
	return k.nextTid, nil
}

func (k *Kernel) nextSeqLocked() uint64 {
	k.seqCounter++
	return k.seqCounter
}

// Current returns the thread the calling goroutine is simulating. It may
// only meaningfully be called by a goroutine previously handed the CPU
// token by this Kernel's dispatcher (i.e. from within a thread entry
// function, or the goroutine that called New).
func (k *Kernel) Current() *Thread {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

func (k *Kernel) insertReady(t *Thread) {
	t.status = StatusReady
	insertByPriority(&k.ready, t)
}

// pickNext re-sorts the ready structure by current priority before
// popping its head. A thread already sitting in ready can have its
// priority raised after insertion — a waiter re-acquiring a contended
// lock donates to a holder that happens to be ready rather than
// running — so insertion order alone cannot be trusted; re-sorting
// here is what makes invariant 3 (ready's head always holds the
// system's highest effective priority) hold unconditionally, the same
// way Up and Signal re-sort their own waiter lists before popping.
func (k *Kernel) pickNext() *Thread {
	if len(k.ready) == 0 {
		return k.idle
	}
	sortByPriority(k.ready)
	next := k.ready[0]
	k.ready = k.ready[1:]
	return next
}

// schedule must be called with k.mu held; it returns with k.mu held. It
// implements the original's opaque switch(from, to) primitive: pick the
// next thread to run, hand it the CPU token, and park the caller until it
// is handed the token again. If the same thread is picked again (the
// ready structure holds nothing of higher priority), the switch is
// skipped entirely, exactly as the reference scheduler's schedule() does
// when it finds cur == next.
func (k *Kernel) schedule() {
	caller := k.current
	k.drainDestroyedLocked()

	next := k.pickNext()
	next.checkMagic()
	next.status = StatusRunning
	k.current = next
	k.sliceCounter = 0

	if next == caller {
		return
	}
	metrics.IncContextSwitches()
	trace.RecordContextSwitch(traceCtx)
	k.contextSwitches++

	_, span := trace.DispatchSpan(traceCtx)
	defer span.End()

	k.mu.Unlock()
	next.resume <- struct{}{}
	<-caller.resume
	k.mu.Lock()
}

func (k *Kernel) drainDestroyedLocked() {
	for range k.destroyed {
		// The outgoing thread's stack is "freed" here, from the incoming
		// thread's own stack, exactly as the original defers the free of a
		// thread's page until some other thread is safely running. In this
		// simulation there is no page to reclaim; the parked goroutine is
		// simply never resumed again.
	}
	k.destroyed = k.destroyed[:0]
}

// Create allocates a new thread running entry(aux) at the given priority
// and inserts it into the ready structure in priority order. If its
// priority strictly exceeds the calling thread's, the caller yields
// before Create returns, guaranteeing (scenario 2) that a newly created
// higher-priority thread runs before create's caller resumes.
//
// Create returns kerr.ErrResourceExhausted, and leaves no partial state
// behind, if the tid space (MaxThreads) is exhausted — the one condition
// spec.md's error-handling section treats as recoverable rather than a
// fatal contract violation.
func (k *Kernel) Create(name string, priority int, entry func(aux interface{}), aux interface{}) (*Thread, error) {
	tid, err := k.allocTid()
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	t := newThread(tid, name, priority)
	t.entry = entry
	t.aux = aux
	if k.mode == ModeMLFQS {
		k.all = append(k.all, t)
	}
	t.seq = k.nextSeqLocked()
	caller := k.current
	k.insertReady(t)
	preempt := t.priority > caller.priority
	k.mu.Unlock()

	go k.runThread(t)

	if preempt {
		k.Yield()
	}
	return t, nil
}

func (k *Kernel) runThread(t *Thread) {
	<-t.resume
	t.entry(t.aux)
	k.Exit()
}

func (k *Kernel) runIdle() {
	<-k.idle.resume
	for {
		k.Block()
	}
}

// Block requires the calling thread to be RUNNING; it marks it BLOCKED
// and invokes the dispatcher. It is the caller's responsibility to have
// first arranged for something else (unblock, a semaphore up, a timer
// wakeup) to eventually move it back to the ready structure.
func (k *Kernel) Block() {
	k.mu.Lock()
	t := k.current
	if t.status != StatusRunning {
		k.mu.Unlock()
		kerr.Fatal("kernel: block() called by thread %q which is not RUNNING (status=%s)", t.name, t.status)
	}
	t.status = StatusBlocked
	k.schedule()
	k.mu.Unlock()
}

// Unblock moves a BLOCKED thread to the ready structure in priority
// order. It is valid to call from interrupt context; it never itself
// preempts the running thread.
func (k *Kernel) Unblock(t *Thread) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t.checkMagic()
	if t.status != StatusBlocked {
		kerr.Fatal("kernel: unblock() called on thread %q which is not BLOCKED (status=%s)", t.name, t.status)
	}
	t.seq = k.nextSeqLocked()
	k.insertReady(t)
}

// Yield moves the calling thread from RUNNING to READY, reinserting it
// into the ready structure in priority order, then invokes the
// dispatcher. Must not be called from interrupt context.
func (k *Kernel) Yield() {
	k.mu.Lock()
	if k.inInterrupt {
		k.mu.Unlock()
		kerr.Fatal("kernel: yield() called from interrupt context; request yield-on-return instead")
	}
	t := k.current
	t.seq = k.nextSeqLocked()
	k.insertReady(t)
	k.schedule()
	k.mu.Unlock()
}

// Exit marks the calling thread DYING, enqueues it for deferred
// destruction, and invokes the dispatcher. It never returns: the calling
// goroutine parks forever on its own resume channel, since a DYING thread
// is never reinserted anywhere that would cause the dispatcher to pick it
// again.
func (k *Kernel) Exit() {
	k.mu.Lock()
	t := k.current
	t.status = StatusDying
	k.destroyed = append(k.destroyed, t)
	if k.mode == ModeMLFQS {
		k.removeFromAllLocked(t)
	}
	k.schedule()
	k.mu.Unlock()
	kerr.Fatal("kernel: exit() returned, which should be unreachable")
}

func (k *Kernel) removeFromAllLocked(t *Thread) {
	for i, o := range k.all {
		if o == t {
			k.all = append(k.all[:i], k.all[i+1:]...)
			return
		}
	}
}

// SetPriority sets the calling thread's base priority. It is a no-op
// under MLFQS, where priority is a derived quantity. Setting a lower
// priority than some ready thread currently holds causes an immediate
// yield.
func (k *Kernel) SetPriority(p int) {
	k.mu.Lock()
	if k.mode == ModeMLFQS {
		k.mu.Unlock()
		return
	}
	self := k.current
	self.basePriority = p
	self.priority = maxDonatedPriority(self)
	preempt := len(k.ready) > 0 && k.ready[0].priority > self.priority
	k.mu.Unlock()
	if preempt {
		k.Yield()
	}
}

// GetPriority returns the calling thread's current effective priority.
func (k *Kernel) GetPriority() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current.priority
}

func maxDonatedPriority(t *Thread) int {
	p := t.basePriority
	for _, d := range t.donations {
		if d.donor.priority > p {
			p = d.donor.priority
		}
	}
	return p
}

// LiveTids returns the tids of every thread that is currently READY,
// RUNNING or asleep waiting for a timer deadline — a snapshot useful for
// tests and diagnostics that want to compare against an expected set of
// threads without depending on queue order.
func (k *Kernel) LiveTids() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	var tids []int
	for _, t := range k.ready {
		tids = append(tids, t.tid)
	}
	for _, t := range k.sleeping {
		tids = append(tids, t.tid)
	}
	if k.current != nil {
		tids = append(tids, k.current.tid)
	}
	return tidSetFromSlice(tids).toSlice()
}

// TickStats returns the cumulative idle and active tick counts observed
// by Tick so far.
func (k *Kernel) TickStats() (idle, active int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.idleTicks, k.activeTicks
}

// ContextSwitches returns the cumulative count of dispatcher handoffs
// between distinct threads observed so far.
func (k *Kernel) ContextSwitches() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.contextSwitches
}

// ReadyDepth returns the number of threads currently in the ready
// structure, the same value Tick reports to metrics.SetReadyDepth.
func (k *Kernel) ReadyDepth() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.ready)
}

// SleepDepth returns the number of threads currently blocked in the sleep
// structure, the same value Tick reports to metrics.SetSleepDepth.
func (k *Kernel) SleepDepth() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.sleeping)
}

// LastTickTrace returns a formatted breakdown of the phases (sleep-queue
// pop, MLFQS recompute, slice accounting) making up the most recently
// completed Tick call, for diagnostics. It returns "" before the first
// Tick.
func (k *Kernel) LastTickTrace() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.lastTick == nil {
		return ""
	}
	return k.lastTick.String()
}

// logStatus is a small diagnostic helper kept close to the teacher's
// logging conventions; it is not on any hot path.
func (k *Kernel) logStatus(format string, args ...interface{}) {
	if kvlog.V(2) {
		kvlog.Infof(format, args...)
	}
}
