package kernel

import (
	"time"

	"github.com/prkty/kpintos/internal/metrics"
	"github.com/prkty/kpintos/internal/phasetrace"
	"github.com/prkty/kpintos/internal/trace"
)

// Sleep suspends the calling thread for at least n ticks, measured from
// entry, without busy-waiting. n <= 0 returns immediately. Interrupts
// (i.e. k.mu) must not already be held by the caller on entry — Sleep
// disables and restores it itself, like every other blocking primitive.
func (k *Kernel) Sleep(n int64) {
	if n <= 0 {
		return
	}
	k.mu.Lock()
	self := k.current
	wake := k.ticks + n
	self.wakeTick = wake
	self.status = StatusBlocked
	insertSleep(&k.sleeping, self, wake)
	k.schedule()
	k.mu.Unlock()
}

// insertSleep inserts t into *list ordered by ascending wake tick, with
// ties broken by descending priority, so that the head of the list is
// always the next deadline to fire and the sleep structure's per-tick
// pop cost is O(1) amortized in the number of threads actually woken.
func insertSleep(list *[]*Thread, t *Thread, wake int64) {
	l := *list
	i := 0
	for i < len(l) {
		if l[i].wakeTick != wake {
			if l[i].wakeTick > wake {
				break
			}
		} else if l[i].priority < t.priority {
			break
		}
		i++
	}
	l = append(l, nil)
	copy(l[i+1:], l[i:])
	l[i] = t
	*list = l
}

// NowTicks returns the current global tick count.
func (k *Kernel) NowTicks() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ticks
}

// ElapsedSince returns the number of ticks that have passed since t, a
// value previously obtained from NowTicks.
func (k *Kernel) ElapsedSince(t int64) int64 {
	return k.NowTicks() - t
}

// Tick is the tick handler, invoked from interrupt context by the
// (external) tick source at TIMER_FREQ Hz. It advances the tick count,
// pops and unblocks every sleeper whose deadline has elapsed, runs the
// MLFQS accounting formulas if enabled, and requests a yield on return if
// the running thread has exhausted its time slice. Tick itself must
// never call a blocking primitive or yield directly; ReturnFromInterrupt
// performs the deferred yield once Tick has returned.
func (k *Kernel) Tick() {
	trace.RecordTick(traceCtx)
	_, span := trace.SleepPopSpan(traceCtx)
	defer span.End()

	k.mu.Lock()
	pt := phasetrace.NewCompactTimer("tick")
	k.inInterrupt = true
	k.ticks++
	now := k.ticks
	if k.current == k.idle {
		k.idleTicks++
	} else {
		k.activeTicks++
	}

	pt.Push("sleep-pop")
	_, span = trace.SleepPopSpan(traceCtx)
	for len(k.sleeping) > 0 && k.sleeping[0].wakeTick <= now {
		t := k.sleeping[0]
		k.sleeping = k.sleeping[1:]
		t.seq = k.nextSeqLocked()
		k.insertReady(t)
	}
	span.End()
	pt.Pop()

	if k.mode == ModeMLFQS {
		pt.Push("mlfqs-recompute")
		if k.current != k.idle {
			k.current.recentCPU = k.current.recentCPU.AddInt(1)
		}
		if now%k.timerFreq == 0 {
			k.recomputeLoadAvgAndRecentCPULocked()
		}
		if now%4 == 0 {
			k.recomputeAllPrioritiesLocked()
		}
		pt.Pop()
	}

	pt.Push("slice-accounting")
	k.sliceCounter++
	if k.sliceCounter >= TimeSlice {
		k.yieldRequested = true
	}
	pt.Pop()
	pt.Finish()
	k.lastTick = pt

	metrics.SetReadyDepth(len(k.ready))
	metrics.SetSleepDepth(len(k.sleeping))
	if k.mode == ModeMLFQS {
		metrics.SetLoadAvg(k.loadAvg.MulInt(100).Round())
	}
	k.inInterrupt = false
	k.mu.Unlock()
}

// ReturnFromInterrupt performs the yield Tick deferred, if any. The
// simulated tick source must call this immediately after each Tick.
func (k *Kernel) ReturnFromInterrupt() {
	k.mu.Lock()
	yield := k.yieldRequested
	k.yieldRequested = false
	k.mu.Unlock()
	if yield {
		k.Yield()
	}
}

// loopsPerTick and the calibration below grounds sub-tick timing in the
// same busy-wait doubling-then-refinement scheme as the reference timer
// device: double a loop count until it exceeds one tick's duration, then
// test individual bits from the high end down for roughly ten bits of
// additional precision.
var loopsPerTick int64

// Calibrate measures how many iterations of busyLoop fit in one tick at
// the given tick period, caching the result for SleepRealTime. It need
// only be called once per process; calling it again recalibrates.
func Calibrate(tickPeriod time.Duration) {
	loops := int64(1)
	for !tooManyLoops(loops, tickPeriod) {
		loops <<= 1
	}
	loops >>= 1
	for bit := loops >> 1; bit > loops>>10; bit >>= 1 {
		candidate := loops | bit
		if !tooManyLoops(candidate, tickPeriod) {
			loops = candidate
		}
	}
	loopsPerTick = loops
}

func tooManyLoops(loops int64, tickPeriod time.Duration) bool {
	start := time.Now()
	busyLoop(loops)
	return time.Since(start) >= tickPeriod
}

// busyLoop spends roughly `loops` units of CPU work; volatile-style
// accumulation into a package variable keeps the compiler from discarding
// the loop as dead code, the same concern the reference implementation's
// NO_INLINE/barrier annotations address.
var busySink int64

func busyLoop(loops int64) {
	var x int64
	for i := int64(0); i < loops; i++ {
		x += i
	}
	busySink = x
}

// SleepRealTime services a sleep_ticks request shorter than one tick by
// busy-waiting the calibrated fraction of a tick, bypassing the sleep
// structure entirely — sub-tick requests have no business taking a
// dispatcher round trip, and the reference implementation treats them the
// same way.
func SleepRealTime(d, tickPeriod time.Duration) {
	if d <= 0 {
		return
	}
	if loopsPerTick == 0 {
		Calibrate(tickPeriod)
	}
	loops := int64(float64(loopsPerTick) * (float64(d) / float64(tickPeriod)))
	busyLoop(loops)
}
