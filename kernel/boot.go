package kernel

import (
	"fmt"
	"sync"

	"github.com/prkty/kpintos/kconfig"
	"github.com/prkty/kpintos/kpubsub"
	"github.com/prkty/kpintos/kvlog"
	"github.com/prkty/kpintos/toposort"
)

// subsystemDeps describes the leaves-first dependency order from the
// system overview: the tick source underlies the ready and sleep
// structures, which the synchronization layer and dispatcher build on,
// with the MLFQS governor layered on top of a working dispatcher.
var subsystemDeps = map[string][]string{
	"ready-structure": {"tick-source"},
	"sleep-structure": {"tick-source"},
	"sync-layer":      {"ready-structure"},
	"dispatcher":      {"ready-structure", "sleep-structure", "sync-layer"},
	"mlfqs-governor":  {"dispatcher"},
}

// BootOrder computes the subsystem initialization order implied by
// subsystemDeps via topological sort, so Boot never starts a subsystem
// before the ones it depends on.
func BootOrder() ([]string, error) {
	var s toposort.Sorter
	for n, deps := range subsystemDeps {
		s.AddNode(n)
		for _, d := range deps {
			s.AddEdge(n, d)
		}
	}
	sorted, cycles := s.Sort()
	if len(cycles) > 0 {
		return nil, fmt.Errorf("kernel: cyclic subsystem dependency: %s", toposort.DumpCycles(cycles, func(n interface{}) string {
			return n.(string)
		}))
	}
	names := make([]string, len(sorted))
	for i, n := range sorted {
		names[i] = n.(string)
	}
	return names, nil
}

var (
	bootSettingsMu   sync.Mutex
	bootSettingsLast *kpubsub.Stream
)

// LastBootSettings returns a snapshot of the settings published by the
// most recent call to Boot, or nil if Boot has never been called. Each
// Boot call runs its own short-lived Publisher (a stream can't be
// recreated once its producer closes it), so this is the stable handle
// diagnostic code should read rather than reaching into Boot's Publisher
// directly.
func LastBootSettings() *kpubsub.Stream {
	bootSettingsMu.Lock()
	defer bootSettingsMu.Unlock()
	return bootSettingsLast
}

// Boot constructs a Kernel whose scheduler mode is taken from cfg (as
// populated from command line flags), logging each subsystem as it comes
// up in dependency order. The resolved boot settings are also published
// on a kpubsub stream so any number of diagnostic consumers — here, a
// forked consumer that mirrors them into the boot log, and
// LastBootSettings for anything that wants to inspect them afterward —
// can observe them without Boot needing to know who's listening.
func Boot(cfg kconfig.Config) (*Kernel, error) {
	order, err := BootOrder()
	if err != nil {
		return nil, err
	}
	mode := ModePriority
	if v, err := cfg.Get("scheduler_mode"); err == nil && v == "mlfqs" {
		mode = ModeMLFQS
	}

	settings := make(chan kpubsub.Setting)
	pub := kpubsub.NewPublisher()
	if _, err := pub.CreateStream("boot-settings", "resolved kernel boot parameters", settings); err != nil {
		return nil, err
	}
	heard := make(chan kpubsub.Setting, 8)
	if _, err := pub.ForkStream("boot-settings", heard); err != nil {
		return nil, err
	}
	logDone := make(chan struct{})
	go func() {
		defer close(logDone)
		for s := range heard {
			kvlog.Infof("boot setting published: %s", s.String())
		}
	}()

	modeName := "priority"
	if mode == ModeMLFQS {
		modeName = "mlfqs"
	}
	settings <- kpubsub.NewString("scheduler_mode", "priority or mlfqs", modeName)
	settings <- kpubsub.NewInt("timer_freq", "simulated tick rate in Hz", 100)
	settings <- kpubsub.NewInt("time_slice", "ticks per quantum", TimeSlice)
	close(settings)
	<-logDone

	snap := pub.Latest("boot-settings")
	bootSettingsMu.Lock()
	bootSettingsLast = snap
	bootSettingsMu.Unlock()

	for _, sub := range order {
		kvlog.Infof("booting subsystem %q (mode=%v)", sub, mode)
	}
	return New(mode), nil
}
