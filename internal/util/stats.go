package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/call counter.
var Stats = &stats{}

type stats struct {
	SignalsIn      atomic.Int64 // inbound signal events routed
	SignalsOut     atomic.Int64 // outbound signals delivered
	SignalsDropped atomic.Int64 // inbound signals dropped (orphaned or malformed)
	SendFailures   atomic.Int64 // outbound deliveries that failed
	CallsStarted   atomic.Int64 // sessions installed (start or accept)
	CallsEnded     atomic.Int64 // sessions torn down
	BytesRecorded  atomic.Int64 // remote media bytes written to disk
}

func (s *stats) AddIn()            { s.SignalsIn.Add(1) }
func (s *stats) AddOut()           { s.SignalsOut.Add(1) }
func (s *stats) AddDropped()       { s.SignalsDropped.Add(1) }
func (s *stats) AddSendFailure()   { s.SendFailures.Add(1) }
func (s *stats) AddCallStarted()   { s.CallsStarted.Add(1) }
func (s *stats) AddCallEnded()     { s.CallsEnded.Add(1) }
func (s *stats) AddRecorded(n int) { s.BytesRecorded.Add(int64(n)) }

// snapshot is a point-in-time copy used by the reporter.
type snapshot struct {
	in, out, dropped, failed, started, ended, recorded int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		in:       s.SignalsIn.Load(),
		out:      s.SignalsOut.Load(),
		dropped:  s.SignalsDropped.Load(),
		failed:   s.SendFailures.Load(),
		started:  s.CallsStarted.Load(),
		ended:    s.CallsEnded.Load(),
		recorded: s.BytesRecorded.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every interval, but only when something changed. It stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(prev, cur))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders the delta between two snapshots for the logger.
func formatStats(prev, cur snapshot) string {
	return fmt.Sprintf("Signals: %3d↓ %3d↑ %2d dropped %2d failed | Calls: %2d started %2d ended | Rec: %s",
		cur.in-prev.in,
		cur.out-prev.out,
		cur.dropped-prev.dropped,
		cur.failed-prev.failed,
		cur.started-prev.started,
		cur.ended-prev.ended,
		formatBytes(float64(cur.recorded-prev.recorded)),
	)
}
