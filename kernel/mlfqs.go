package kernel

import "github.com/prkty/kpintos/internal/metrics"

// Fixed is a signed 17.14 fixed-point scalar: the integer x represents
// x/2^14. It underlies every MLFQS formula (recent_cpu, load_avg, and the
// derived priority) exactly as the reference governor's fixed-point type
// does.
type Fixed int64

const fixedFracBits = 14

// IntToFixed converts an integer to its fixed-point representation.
func IntToFixed(n int) Fixed { return Fixed(n) << fixedFracBits }

// Trunc converts to an integer with an arithmetic right shift, which
// rounds toward negative infinity, matching the reference
// fp-to-int-truncated operation.
func (f Fixed) Trunc() int { return int(f >> fixedFracBits) }

// Round converts to the nearest integer, rounding ties away from zero,
// matching the reference fp-to-int-nearest operation.
func (f Fixed) Round() int {
	const half = 1 << (fixedFracBits - 1)
	if f >= 0 {
		return int((f + half) >> fixedFracBits)
	}
	return -int(((-f) + half) >> fixedFracBits)
}

// AddInt adds an integer to a Fixed.
func (f Fixed) AddInt(n int) Fixed { return f + IntToFixed(n) }

// SubInt subtracts an integer from a Fixed.
func (f Fixed) SubInt(n int) Fixed { return f - IntToFixed(n) }

// MulInt multiplies a Fixed by an integer.
func (f Fixed) MulInt(n int) Fixed { return f * Fixed(n) }

// DivInt divides a Fixed by an integer.
func (f Fixed) DivInt(n int) Fixed { return f / Fixed(n) }

// Mul multiplies two Fixed values, widening to 64 bits to avoid overflow
// in the intermediate product before shifting back down.
func (f Fixed) Mul(g Fixed) Fixed {
	return Fixed((int64(f) * int64(g)) >> fixedFracBits)
}

// Div divides two Fixed values, widening the dividend before the shift so
// the quotient retains fractional precision.
func (f Fixed) Div(g Fixed) Fixed {
	return Fixed((int64(f) << fixedFracBits) / int64(g))
}

// SetNiceness sets the calling thread's niceness. Under MLFQS this
// immediately recomputes its priority and yields if some other ready
// thread now outranks it; under priority scheduling niceness plays no
// role beyond bookkeeping.
func (k *Kernel) SetNiceness(n int) {
	k.mu.Lock()
	self := k.current
	self.niceness = n
	if k.mode != ModeMLFQS {
		k.mu.Unlock()
		return
	}
	k.recomputeOnePriorityLocked(self)
	preempt := len(k.ready) > 0 && k.ready[0].priority > self.priority
	k.mu.Unlock()
	if preempt {
		k.Yield()
	}
}

// GetNiceness returns the calling thread's niceness.
func (k *Kernel) GetNiceness() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current.niceness
}

// LoadAvg returns round(load_avg * 100).
func (k *Kernel) LoadAvg() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loadAvg.MulInt(100).Round()
}

// RecentCPU returns round(current.recent_cpu * 100) for the calling
// thread.
func (k *Kernel) RecentCPU() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current.recentCPU.MulInt(100).Round()
}

// recomputeOnePriorityLocked applies priority = PRI_MAX -
// round(recent_cpu/4) - niceness*2, clamped to [PRI_MIN, PRI_MAX]. Called
// with k.mu held, on niceness change and every fourth tick for every
// thread.
func (k *Kernel) recomputeOnePriorityLocked(t *Thread) {
	if t == k.idle {
		return
	}
	pr := PriMax - t.recentCPU.DivInt(4).Round() - t.niceness*2
	switch {
	case pr > PriMax:
		pr = PriMax
	case pr < PriMin:
		pr = PriMin
	}
	t.priority = pr
}

// ForEachThread calls fn once for every thread known to the all-threads
// list (MLFQS mode only — the list is empty under priority scheduling,
// since nothing in that mode needs to visit every thread). fn must not
// call back into the kernel.
func (k *Kernel) ForEachThread(fn func(*Thread)) {
	k.mu.Lock()
	all := make([]*Thread, len(k.all))
	copy(all, k.all)
	k.mu.Unlock()
	for _, t := range all {
		fn(t)
	}
}

// recomputeAllPrioritiesLocked recomputes every thread's priority, then
// re-sorts the ready structure since the relative order of ready threads
// may now have changed.
func (k *Kernel) recomputeAllPrioritiesLocked() {
	for _, t := range k.all {
		k.recomputeOnePriorityLocked(t)
	}
	sortByPriority(k.ready)
}

// recomputeLoadAvgAndRecentCPULocked applies the once-a-second MLFQS
// formulas: load_avg = (59/60)*load_avg + (1/60)*ready_threads, then
// recent_cpu = (2*load_avg)/(2*load_avg+1) * recent_cpu + niceness for
// every thread, followed by a priority recomputation for all threads.
func (k *Kernel) recomputeLoadAvgAndRecentCPULocked() {
	ready := len(k.ready)
	if k.current != k.idle {
		ready++
	}

	coeffOld := IntToFixed(59).Div(IntToFixed(60))
	coeffReady := IntToFixed(1).Div(IntToFixed(60))
	k.loadAvg = coeffOld.Mul(k.loadAvg) + coeffReady.MulInt(ready)

	twoLoad := k.loadAvg.MulInt(2)
	coeff := twoLoad.Div(twoLoad.AddInt(1))
	for _, t := range k.all {
		if t == k.idle {
			continue
		}
		t.recentCPU = coeff.Mul(t.recentCPU).AddInt(t.niceness)
		metrics.ObserveRecentCPU(t.name, t.recentCPU.MulInt(100).Round())
	}

	k.recomputeAllPrioritiesLocked()
}
