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

// Stats is the process-wide negotiation counter.
var Stats = &stats{}

type stats struct {
	OffersSent         atomic.Int64 // local offers delivered to the signal channel
	AnswersSent        atomic.Int64 // local answers delivered to the signal channel
	CollisionsDeferred atomic.Int64 // colliding remote offers accepted by the polite side
	CollisionsIgnored  atomic.Int64 // colliding remote offers dropped by the impolite side
	OffersSuperseded   atomic.Int64 // local offers abandoned after a polite yield
	CandidatesAdded    atomic.Int64 // remote candidates handed to the transport
	CandidatesSent     atomic.Int64 // local candidates delivered to the signal channel
	Failures           atomic.Int64 // description, candidate or send failures
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	OffersSent, AnswersSent               int64
	CollisionsDeferred, CollisionsIgnored int64
	OffersSuperseded                      int64
	CandidatesAdded, CandidatesSent       int64
	Failures                              int64
}

// Snapshot returns the current counter values.
func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		OffersSent:         s.OffersSent.Load(),
		AnswersSent:        s.AnswersSent.Load(),
		CollisionsDeferred: s.CollisionsDeferred.Load(),
		CollisionsIgnored:  s.CollisionsIgnored.Load(),
		OffersSuperseded:   s.OffersSuperseded.Load(),
		CandidatesAdded:    s.CandidatesAdded.Load(),
		CandidatesSent:     s.CandidatesSent.Load(),
		Failures:           s.Failures.Load(),
	}
}

// Sub returns the per-counter difference s - prev.
func (s Snapshot) Sub(prev Snapshot) Snapshot {
	return Snapshot{
		OffersSent:         s.OffersSent - prev.OffersSent,
		AnswersSent:        s.AnswersSent - prev.AnswersSent,
		CollisionsDeferred: s.CollisionsDeferred - prev.CollisionsDeferred,
		CollisionsIgnored:  s.CollisionsIgnored - prev.CollisionsIgnored,
		OffersSuperseded:   s.OffersSuperseded - prev.OffersSuperseded,
		CandidatesAdded:    s.CandidatesAdded - prev.CandidatesAdded,
		CandidatesSent:     s.CandidatesSent - prev.CandidatesSent,
		Failures:           s.Failures - prev.Failures,
	}
}

// IsZero reports whether every counter is zero.
func (s Snapshot) IsZero() bool {
	return s == Snapshot{}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs negotiation activity
// every 10 seconds. Quiet intervals are skipped. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		prev := Stats.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()
				if delta := cur.Sub(prev); !delta.IsZero() {
					pterm.DefaultLogger.Info(formatStats(delta))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a one-line summary of a stats delta for the logger.
func formatStats(d Snapshot) string {
	return fmt.Sprintf("Offer: %2d↑ | Answer: %2d↑ | Glare: %2d yielded %2d ignored %2d superseded | ICE: %2d↑ %2d↓ | Fail: %d",
		d.OffersSent,
		d.AnswersSent,
		d.CollisionsDeferred,
		d.CollisionsIgnored,
		d.OffersSuperseded,
		d.CandidatesSent,
		d.CandidatesAdded,
		d.Failures,
	)
}
