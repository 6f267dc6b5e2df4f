package merkle

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/clarion-edu/clarion-backend/internal/ledger"
)

// ChainReport is the outcome of verifying one learner's event chain.
type ChainReport struct {
	StudentRef    string `json:"student_ref"`
	Valid         bool   `json:"valid"`
	Checked       int    `json:"checked"`
	BrokenEventID string `json:"broken_at_event_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// VerifyChainIntegrity recomputes every confirmed event's content hash from
// its stored payload and walks the prev-hash chain. Read-only: a broken chain
// is reported, never patched.
func (v *Verifier) VerifyChainIntegrity(ctx context.Context, studentRef string) (ChainReport, error) {
	events, err := v.events.ConfirmedByStudent(ctx, studentRef)
	if err != nil {
		return ChainReport{}, err
	}
	report := ChainReport{StudentRef: studentRef, Valid: true, Checked: len(events)}

	// Content hashes are independent per event; recompute them in parallel.
	recomputed := make([]string, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range events {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := ledger.ContentHash(events[i].Payload)
			if err != nil {
				return err
			}
			recomputed[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ChainReport{}, err
	}

	prev := ""
	for i, ev := range events {
		if recomputed[i] != ev.ContentHash {
			report.Valid = false
			report.BrokenEventID = ev.ID
			report.Reason = "content hash does not match payload"
			return report, nil
		}
		if ev.PrevHash != prev {
			report.Valid = false
			report.BrokenEventID = ev.ID
			report.Reason = "prev-hash link broken"
			return report, nil
		}
		prev = ev.ContentHash
	}
	return report, nil
}
