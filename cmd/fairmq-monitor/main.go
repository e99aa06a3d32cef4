// Command fairmq-monitor runs the external Monitor process (C9) for a
// single session: it polls the session's heartbeat counter and reclaims
// shared objects once every device has gone quiet. Grounded on the
// teacher's example entry points (stdlib flag parsing,
// fmt.Fprintf(os.Stderr, ...) + os.Exit on fatal setup errors).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/FairRootGroup/fairmq-go/monitor"
)

func main() {
	shmID := flag.String("shmid", "", "shared-memory session id to watch (required)")
	timeoutMs := flag.Int("timeout-ms", 2000, "heartbeat staleness threshold in milliseconds")
	intervalMs := flag.Int("interval-ms", 100, "poll interval in milliseconds")
	selfDestruct := flag.Bool("self-destruct", false, "exit after the first cleanup")
	viewOnly := flag.Bool("view-only", false, "observe heartbeat staleness but never clean up")
	cleanOnExit := flag.Bool("clean-on-exit", false, "run one cleanup pass when the monitor is asked to stop")
	flag.Parse()

	if *shmID == "" {
		fmt.Fprintln(os.Stderr, "fairmq-monitor: -shmid is required")
		os.Exit(2)
	}

	opts := monitor.DefaultOptions(*shmID)
	opts.TimeoutMs = *timeoutMs
	opts.IntervalMs = *intervalMs
	opts.SelfDestruct = *selfDestruct
	opts.ViewOnly = *viewOnly
	opts.CleanOnExit = *cleanOnExit

	m, err := monitor.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fairmq-monitor: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("[fairmq-monitor] watching session %s (timeout=%dms interval=%dms)\n", *shmID, *timeoutMs, *intervalMs)
	if err := m.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "fairmq-monitor: %v\n", err)
		os.Exit(1)
	}
}
