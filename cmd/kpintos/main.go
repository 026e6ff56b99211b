// Command kpintos drives the scheduler core standalone: it boots a
// Kernel, optionally serves /metrics, and can run one of the reference
// end-to-end scenarios non-interactively — the moral equivalent of
// `pintos -q run <test>` for this simulation.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
	cloudmonitoring "google.golang.org/api/monitoring/v3"

	"github.com/prkty/kpintos/buildinfo"
	"github.com/prkty/kpintos/internal/gcm"
	"github.com/prkty/kpintos/internal/metrics"
	"github.com/prkty/kpintos/internal/trace"
	"github.com/prkty/kpintos/kconfig"
	"github.com/prkty/kpintos/kernel"
	"github.com/prkty/kpintos/kvlog"
)

var (
	schedulerMode = pflag.String("scheduler_mode", "priority", "scheduler mode: \"priority\" or \"mlfqs\"")
	metricsAddr   = pflag.String("metrics_addr", "", "if set, serve /metrics on this address (e.g. :9090)")
	gcmCredFile   = pflag.String("gcm_credentials", "", "if set, push scheduler stats to Cloud Monitoring using this service-account credential file")
	gcmProject    = pflag.String("gcm_project", "", "Cloud Monitoring project to push scheduler stats to; required with --gcm_credentials")
	gcmInterval   = pflag.Duration("gcm_push_interval", 10*time.Second, "how often to push scheduler stats to Cloud Monitoring")
	showVersion   = pflag.Bool("version", false, "print build info and exit")
)

func main() {
	pflag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Info().String())
		return
	}

	if err := trace.Register(); err != nil {
		kvlog.Fatalf("registering trace views: %v", err)
	}

	if *metricsAddr != "" {
		go func() {
			kvlog.Infof("serving /metrics on %s", *metricsAddr)
			http.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				kvlog.Fatalf("metrics server: %v", err)
			}
		}()
	}

	var gcmSvc *cloudmonitoring.Service
	if *gcmCredFile != "" {
		if *gcmProject == "" {
			kvlog.Fatalf("--gcm_project is required alongside --gcm_credentials")
		}
		svc, err := gcm.Authenticate(*gcmCredFile)
		if err != nil {
			kvlog.Fatalf("authenticating to Cloud Monitoring: %v", err)
		}
		gcmSvc = svc
	}

	cfg := kconfig.New()
	cfg.Set("scheduler_mode", *schedulerMode)

	k, err := kernel.Boot(cfg)
	if err != nil {
		kvlog.Fatalf("boot: %v", err)
	}

	if gcmSvc != nil {
		go pushSchedulerStats(gcmSvc, *gcmProject, *gcmInterval, k)
	}

	args := pflag.Args()
	if len(args) == 0 {
		runIdleUntilSignaled(k)
		return
	}

	switch args[0] {
	case "run":
		if len(args) != 2 {
			kvlog.Fatalf("usage: kpintos run <scenario>")
		}
		if err := runScenario(k, args[1]); err != nil {
			kvlog.Fatalf("scenario %q: %v", args[1], err)
		}
	case "bench-mlfqs":
		benchMLFQS()
	default:
		kvlog.Fatalf("unknown subcommand %q (want run|bench-mlfqs)", args[0])
	}
}

// runIdleUntilSignaled drives a simulated tick source at TIMER_FREQ Hz
// forever, the "boot and wait" mode analogous to a kernel with no test
// runner attached.
func runIdleUntilSignaled(k *kernel.Kernel) {
	kernel.Calibrate(10 * time.Millisecond)
	for {
		time.Sleep(10 * time.Millisecond)
		k.Tick()
		k.ReturnFromInterrupt()
	}
}

// pushSchedulerStats samples k's counters every interval and pushes them
// to Cloud Monitoring as custom metrics, logging (rather than dying on)
// any individual push failure so a transient Cloud Monitoring outage
// doesn't take the scheduler down with it.
func pushSchedulerStats(svc *cloudmonitoring.Service, project string, interval time.Duration, k *kernel.Kernel) {
	for range time.Tick(interval) {
		snap := gcm.Snapshot{
			Scenario:        "kpintos",
			ReadyQueueDepth: float64(k.ReadyDepth()),
			SleepQueueDepth: float64(k.SleepDepth()),
			LoadAvg:         float64(k.LoadAvg()) / 100,
			ContextSwitches: k.ContextSwitches(),
		}
		if err := gcm.Push(svc, project, snap); err != nil {
			kvlog.Errorf("pushing scheduler stats to Cloud Monitoring: %v", err)
		}
	}
}

// runScenario drives one of the named end-to-end scenarios described in
// the design notes, printing a one-line summary of its outcome.
func runScenario(k *kernel.Kernel, name string) error {
	switch name {
	case "alarm-ordering":
		return scenarioAlarmOrdering(k)
	case "priority-preemption":
		return scenarioPriorityPreemption(k)
	default:
		return fmt.Errorf("unknown scenario %q", name)
	}
}

func scenarioAlarmOrdering(k *kernel.Kernel) error {
	var log []string
	mk := func(name string, ticks int64) {
		k.Create(name, kernel.PriDefault, func(interface{}) {
			k.Sleep(ticks)
			log = append(log, name)
		}, nil)
		k.Yield()
	}
	mk("A", 30)
	mk("B", 10)
	mk("C", 20)
	for i := 0; i < 30; i++ {
		k.Tick()
		k.ReturnFromInterrupt()
		k.Yield()
	}
	fmt.Printf("alarm-ordering: wake order = %v\n", log)
	return nil
}

func scenarioPriorityPreemption(k *kernel.Kernel) error {
	ran := make(chan string, 1)
	k.Create("H", kernel.PriDefault+3, func(interface{}) {
		ran <- "H"
	}, nil)
	select {
	case name := <-ran:
		fmt.Printf("priority-preemption: %s ran to completion before create returned\n", name)
	default:
		return fmt.Errorf("higher-priority thread did not preempt its creator")
	}
	return nil
}

// benchMLFQS ticks an MLFQS-mode kernel with a handful of threads that
// block on a semaphore as soon as they first run, leaving the main thread
// running, and reports how load_avg climbs, for eyeballing the governor's
// behavior outside of a test assertion.
func benchMLFQS() {
	k := kernel.New(kernel.ModeMLFQS)
	spin := k.NewSemaphore(0)
	for i := 0; i < 3; i++ {
		k.Create("spinner", kernel.PriDefault, func(interface{}) {
			spin.Down()
		}, nil)
	}
	for round := 0; round < 10; round++ {
		for i := 0; i < 100; i++ {
			k.Tick()
			k.ReturnFromInterrupt()
		}
		fmt.Printf("bench-mlfqs: round %d load_avg=%d\n", round, k.LoadAvg())
	}
	k.ForEachThread(func(t *kernel.Thread) {
		fmt.Printf("bench-mlfqs: %s priority=%d\n", t.Name(), t.Priority())
	})
	idle, active := k.TickStats()
	fmt.Printf("bench-mlfqs: idle_ticks=%d active_ticks=%d\n", idle, active)
	os.Exit(0)
}
