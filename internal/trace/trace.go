// Package trace wraps go.opencensus.io spans and in-process stats around
// the dispatcher's hottest paths — a schedule() handoff, a donation walk,
// a sleep-queue pop — plus the tick/context-switch/donation-depth
// measures the metrics package surfaces as cumulative counters elsewhere.
// Nothing in the retrieval pack calls opencensus directly (it is only ever
// a transitive dependency there); this package follows the library's own
// documented span/stats-and-view idiom instead of a pack exemplar (see
// DESIGN.md).
package trace

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/trace"
)

var (
	// MTicks counts simulated timer interrupts.
	MTicks = stats.Int64("kpintos/ticks", "timer interrupts handled", stats.UnitDimensionless)
	// MContextSwitches counts dispatcher handoffs between distinct threads.
	MContextSwitches = stats.Int64("kpintos/context_switches", "dispatcher handoffs", stats.UnitDimensionless)
	// MDonationDepth records the hop count of each completed donation walk.
	MDonationDepth = stats.Int64("kpintos/donation_depth", "hops walked by one donation", stats.UnitDimensionless)
)

// Views are the aggregations registered for the measures above: counts
// for ticks and context switches, a distribution for donation depth since
// its shape (not just its total) is interesting.
var Views = []*view.View{
	{Measure: MTicks, Aggregation: view.Count()},
	{Measure: MContextSwitches, Aggregation: view.Count()},
	{Measure: MDonationDepth, Aggregation: view.Distribution(0, 1, 2, 3, 4, 5, 6, 7, 8)},
}

// Register installs Views with opencensus's default exporter pipeline. It
// is safe to call once at boot; a second call would double-register and
// is the caller's bug, not this package's to guard against.
func Register() error {
	return view.Register(Views...)
}

// DispatchSpan starts a span around one schedule() handoff.
func DispatchSpan(ctx context.Context) (context.Context, *trace.Span) {
	return trace.StartSpan(ctx, "kernel.schedule")
}

// DonationSpan starts a span around one donateChain walk.
func DonationSpan(ctx context.Context) (context.Context, *trace.Span) {
	return trace.StartSpan(ctx, "kernel.donateChain")
}

// SleepPopSpan starts the span Tick opens around one whole tick handler
// call, which includes its sleep-structure drain.
func SleepPopSpan(ctx context.Context) (context.Context, *trace.Span) {
	return trace.StartSpan(ctx, "kernel.sleepPop")
}

// RecordTick records one timer interrupt handled.
func RecordTick(ctx context.Context) {
	stats.Record(ctx, MTicks.M(1))
}

// RecordContextSwitch records one dispatcher handoff between distinct
// threads.
func RecordContextSwitch(ctx context.Context) {
	stats.Record(ctx, MContextSwitches.M(1))
}

// RecordDonationDepth records the hop count of one completed donation
// walk.
func RecordDonationDepth(ctx context.Context, hops int) {
	stats.Record(ctx, MDonationDepth.M(int64(hops)))
}
