package kernel

import (
	"github.com/prkty/kpintos/internal/metrics"
	"github.com/prkty/kpintos/internal/trace"
	"github.com/prkty/kpintos/kerr"
)

// Semaphore is a non-negative counter plus a priority-ordered waiter
// list. A thread never blocks in Down when the counter is positive.
type Semaphore struct {
	k       *Kernel
	counter int
	waiters []*Thread
}

// NewSemaphore creates a semaphore initialized with the given permit
// count, which must be non-negative.
func (k *Kernel) NewSemaphore(initial int) *Semaphore {
	if initial < 0 {
		kerr.Fatal("kernel: semaphore initial value must be non-negative")
	}
	return &Semaphore{k: k, counter: initial}
}

// Down blocks the calling thread until a permit is available, then
// consumes it.
func (s *Semaphore) Down() {
	k := s.k
	k.mu.Lock()
	for s.counter == 0 {
		self := k.current
		self.seq = k.nextSeqLocked()
		insertByPriority(&s.waiters, self)
		self.status = StatusBlocked
		k.schedule()
	}
	s.counter--
	k.mu.Unlock()
}

// TryDown consumes a permit without blocking if one is available, and
// reports whether it did.
func (s *Semaphore) TryDown() bool {
	k := s.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if s.counter == 0 {
		return false
	}
	s.counter--
	return true
}

// Up releases a permit, waking the highest-priority waiter if any. The
// waiter list is re-sorted by current priority before the head is popped,
// because a donation may have raised a waiter's priority since it was
// inserted. If the woken thread now outranks the calling thread, a yield
// is requested: immediately, if called from thread context, or deferred
// to interrupt return, if called from interrupt context (e.g. a tick
// handler waking a sleeper).
func (s *Semaphore) Up() {
	k := s.k
	k.mu.Lock()
	var woke *Thread
	if len(s.waiters) > 0 {
		sortByPriority(s.waiters)
		woke = s.waiters[0]
		s.waiters = s.waiters[1:]
		woke.seq = k.nextSeqLocked()
		k.insertReady(woke)
	}
	s.counter++
	preempt := woke != nil && k.current != nil && woke.priority > k.current.priority
	inInterrupt := k.inInterrupt
	if preempt && inInterrupt {
		k.yieldRequested = true
	}
	k.mu.Unlock()

	if preempt && !inInterrupt {
		k.Yield()
	}
}

// Lock is a semaphore with a single permit plus an owner field, augmented
// with priority donation: a thread blocked acquiring a lock donates its
// priority up the waiting_on_lock -> owner chain so the holder (and
// anything it is in turn waiting on) runs at no less than the priority of
// anyone waiting on it.
type Lock struct {
	k     *Kernel
	sema  *Semaphore
	owner *Thread
}

// NewLock creates an unheld lock.
func (k *Kernel) NewLock() *Lock {
	return &Lock{k: k, sema: k.NewSemaphore(1)}
}

// Acquire blocks until the lock is held by the calling thread. Acquiring
// from interrupt context, or acquiring a lock already held by the caller,
// is a fatal assertion failure.
func (l *Lock) Acquire() {
	k := l.k
	k.mu.Lock()
	if k.inInterrupt {
		k.mu.Unlock()
		kerr.Fatal("kernel: acquire() called from interrupt context")
	}
	self := k.current
	if l.owner == self {
		k.mu.Unlock()
		kerr.Fatal("kernel: thread %q attempted to acquire a lock it already holds", self.name)
	}
	if k.mode != ModeMLFQS && l.owner != nil && l.owner.priority < self.priority {
		self.waitingOn = l
		donateChain(l, self.priority, self)
	}
	k.mu.Unlock()

	l.sema.Down()

	k.mu.Lock()
	self.waitingOn = nil
	l.owner = self
	k.mu.Unlock()
}

// donation records that donor's priority is propping up a holder's
// effective priority specifically because holder owns via: release
// revokes exactly the donations attributed to the lock being released,
// leaving any others (arriving via some other lock the holder also
// owns) in place.
type donation struct {
	donor *Thread
	via   *Lock
}

// donateChain walks caller -> lock.owner -> owner.waitingOn.owner -> ...,
// raising each holder's priority to donorPriority wherever it is lower,
// up to donationDepthBound hops. Each hop's donation is attributed to
// the specific lock edge that carried it (cur), not merely to the
// ultimate donor, so that releasing one lock in a multi-hop chain
// revokes only the donations that in fact depended on it. The depth
// bound guarantees termination even if the acquisition discipline has
// been violated and the chain contains a cycle.
func donateChain(l *Lock, donorPriority int, donor *Thread) {
	_, span := trace.DonationSpan(traceCtx)
	defer span.End()

	cur := l
	depth := 0
	for ; depth < donationDepthBound && cur != nil; depth++ {
		holder := cur.owner
		if holder == nil || holder.priority >= donorPriority {
			break
		}
		holder.priority = donorPriority
		addDonor(holder, donor, cur)
		if holder.waitingOn == nil {
			depth++
			break
		}
		cur = holder.waitingOn
	}
	metrics.ObserveDonationDepth(depth)
	trace.RecordDonationDepth(traceCtx, depth)
}

func addDonor(holder, donor *Thread, via *Lock) {
	for _, d := range holder.donations {
		if d.donor == donor && d.via == via {
			return
		}
	}
	holder.donations = append(holder.donations, donation{donor: donor, via: via})
}

// Release gives up ownership of the lock. The releasing thread's
// effective priority is recomputed as max(base_priority, highest
// remaining donor priority) once donors that were specifically waiting on
// this lock are removed from its donation set. Releasing a lock not held
// by the caller is a fatal assertion failure.
func (l *Lock) Release() {
	k := l.k
	k.mu.Lock()
	self := k.current
	if l.owner != self {
		k.mu.Unlock()
		kerr.Fatal("kernel: thread %q attempted to release a lock it does not hold", self.name)
	}
	removeDonorsWaitingOn(self, l)
	self.priority = maxDonatedPriority(self)
	l.owner = nil
	k.mu.Unlock()

	l.sema.Up()
}

func removeDonorsWaitingOn(owner *Thread, l *Lock) {
	kept := owner.donations[:0]
	for _, d := range owner.donations {
		if d.via != l {
			kept = append(kept, d)
		}
	}
	owner.donations = kept
}

// TryAcquire acquires the lock without blocking if it is free, and
// reports whether it succeeded. It never donates, since it never blocks.
func (l *Lock) TryAcquire() bool {
	k := l.k
	if !l.sema.TryDown() {
		return false
	}
	k.mu.Lock()
	l.owner = k.current
	k.mu.Unlock()
	return true
}

// HeldByCurrent reports whether the calling thread holds the lock.
func (l *Lock) HeldByCurrent() bool {
	k := l.k
	k.mu.Lock()
	defer k.mu.Unlock()
	return l.owner == k.current
}

// CondVar is a list of per-waiter semaphores, used together with a
// caller-supplied lock in the usual monitor pattern. Signal semantics are
// Mesa-style: a signalled waiter is made ready, not switched to
// immediately, so callers must recheck their predicate after Wait
// returns.
type CondVar struct {
	k       *Kernel
	waiters []*cvWaiter
}

type cvWaiter struct {
	thread *Thread
	sema   *Semaphore
}

// NewCondVar creates a condition variable with no waiters.
func (k *Kernel) NewCondVar() *CondVar {
	return &CondVar{k: k}
}

// Wait atomically releases lock and blocks the calling thread until
// signalled, then reacquires lock before returning. "Atomically" here
// means only that the calling thread is registered as a waiter before
// lock is released, not that signal and wake are a single step — another
// thread may run, and possibly signal this same condition variable,
// between release and the eventual wake.
func (cv *CondVar) Wait(l *Lock) {
	k := cv.k
	sema := k.NewSemaphore(0)

	k.mu.Lock()
	self := k.current
	self.seq = k.nextSeqLocked()
	insertCVWaiter(&cv.waiters, &cvWaiter{thread: self, sema: sema})
	k.mu.Unlock()

	l.Release()
	sema.Down()
	l.Acquire()
}

// Signal wakes the highest-priority waiter, if any, re-sorting the
// waiter list by each waiting thread's current priority first since a
// donation may have changed it since Wait was called.
func (cv *CondVar) Signal() {
	k := cv.k
	k.mu.Lock()
	if len(cv.waiters) == 0 {
		k.mu.Unlock()
		return
	}
	sortCVWaiters(cv.waiters)
	w := cv.waiters[0]
	cv.waiters = cv.waiters[1:]
	k.mu.Unlock()

	w.sema.Up()
}

// Broadcast wakes every current waiter, highest priority first.
func (cv *CondVar) Broadcast() {
	for {
		cv.k.mu.Lock()
		empty := len(cv.waiters) == 0
		cv.k.mu.Unlock()
		if empty {
			return
		}
		cv.Signal()
	}
}

// insertCVWaiter appends w; the list's order only matters once Signal
// re-sorts it by each waiter's current priority, so insertion order here
// is irrelevant beyond recording w's seq for the FIFO tie-break.
func insertCVWaiter(list *[]*cvWaiter, w *cvWaiter) {
	*list = append(*list, w)
}

func sortCVWaiters(list []*cvWaiter) {
	// insertion sort is adequate: waiter lists on a single condition
	// variable are expected to be small, and less below applies the same
	// ordering rule as sortByPriority.
	for i := 1; i < len(list); i++ {
		w := list[i]
		j := i - 1
		for j >= 0 && less(w, list[j]) {
			list[j+1] = list[j]
			j--
		}
		list[j+1] = w
	}
}

// less reports whether a should sort before b: higher priority first,
// FIFO (lower seq) among equal priorities.
func less(a, b *cvWaiter) bool {
	if a.thread.priority != b.thread.priority {
		return a.thread.priority > b.thread.priority
	}
	return a.thread.seq < b.thread.seq
}
