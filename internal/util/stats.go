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

// Stats is the process-wide signaling/media counter.
var Stats = &stats{}

type stats struct {
	OffersSent     atomic.Int64 // offers handed to the signaling transport
	AnswersSent    atomic.Int64 // answers handed to the signaling transport
	CandidatesSent atomic.Int64 // local ICE candidates trickled to the peer
	CandidatesRecv atomic.Int64 // remote ICE candidates received
	Dropped        atomic.Int64 // malformed or out-of-phase signaling messages
	BytesRecv      atomic.Int64 // RTP payload bytes handed to the renderer
}

func (s *stats) AddOffer()         { s.OffersSent.Add(1) }
func (s *stats) AddAnswer()        { s.AnswersSent.Add(1) }
func (s *stats) AddCandidateSent() { s.CandidatesSent.Add(1) }
func (s *stats) AddCandidateRecv() { s.CandidatesRecv.Add(1) }
func (s *stats) AddDropped()       { s.Dropped.Add(1) }
func (s *stats) AddRecv(n int)     { s.BytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs call statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevRecv, prevCand int64
		for {
			select {
			case <-ticker.C:
				recv := Stats.BytesRecv.Load()
				cand := Stats.CandidatesSent.Load() + Stats.CandidatesRecv.Load()

				rate := float64(recv-prevRecv) / interval.Seconds()
				if rate > 10 || cand != prevCand {
					pterm.DefaultLogger.Info(formatStats(rate))
				}

				prevRecv = recv
				prevCand = cand

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

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(rate float64) string {
	return fmt.Sprintf("Media: %s/s | SDP: %d↑ offer %d↑ answer | ICE: %2d↑ %2d↓ | Dropped: %d",
		formatBytes(rate),
		Stats.OffersSent.Load(),
		Stats.AnswersSent.Load(),
		Stats.CandidatesSent.Load(),
		Stats.CandidatesRecv.Load(),
		Stats.Dropped.Load(),
	)
}
