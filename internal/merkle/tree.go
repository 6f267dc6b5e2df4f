package merkle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/clarion-edu/clarion-backend/internal/ledger"
)

// EventSource is the slice of the ledger the verifier reads. The verifier
// never writes events.
type EventSource interface {
	GetMany(ctx context.Context, ids []string) ([]ledger.Event, error)
	ConfirmedByStudent(ctx context.Context, studentRef string) ([]ledger.Event, error)
}

// Batch is a sealed hash tree over a set of ledger events. Recomputing the
// tree from LeafHashes must reproduce RootHash exactly.
type Batch struct {
	RootHash   string    `json:"root_hash"`
	LeafHashes []string  `json:"leaf_hashes"`
	EventIDs   []string  `json:"event_ids"`
	ComputedAt time.Time `json:"computed_at"`
}

type Verifier struct {
	events EventSource
}

func NewVerifier(events EventSource) *Verifier { return &Verifier{events: events} }

// BuildTree computes one leaf per event, in the order given, and folds
// adjacent pairs bottom-up. An odd trailing leaf is promoted unchanged to the
// next level; the same rule applies at every level, so verification is
// deterministic.
func (v *Verifier) BuildTree(ctx context.Context, eventIDs []string) (Batch, error) {
	if len(eventIDs) == 0 {
		return Batch{}, &ledger.ValidationError{Field: "event_ids", Reason: "at least one event required"}
	}
	events, err := v.events.GetMany(ctx, eventIDs)
	if err != nil {
		return Batch{}, err
	}
	leaves := make([]string, len(events))
	for i, ev := range events {
		leaf, err := ledger.LeafHash(ev)
		if err != nil {
			return Batch{}, err
		}
		leaves[i] = leaf
	}
	return Batch{
		RootHash:   RootFromLeaves(leaves),
		LeafHashes: leaves,
		EventIDs:   append([]string(nil), eventIDs...),
		ComputedAt: time.Now().UTC(),
	}, nil
}

// Verify rebuilds the tree over the events' current bytes and compares
// against the claimed root. A mismatch is surfaced as an IntegrityError and
// never repaired.
func (v *Verifier) Verify(ctx context.Context, eventIDs []string, claimedRoot string) error {
	batch, err := v.BuildTree(ctx, eventIDs)
	if err != nil {
		return err
	}
	if batch.RootHash != claimedRoot {
		return &ledger.IntegrityError{Reason: "merkle root mismatch: computed " + batch.RootHash}
	}
	return nil
}

// RootFromLeaves folds hex leaf hashes into a root. Pure function of its
// input; an empty input has no root.
func RootFromLeaves(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	level := make([][]byte, 0, len(leaves))
	for _, l := range leaves {
		b, err := hex.DecodeString(l)
		if err != nil {
			return ""
		}
		level = append(level, b)
	}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				// Odd leaf: promote unchanged.
				next = append(next, level[i])
				break
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
	}
	return hex.EncodeToString(level[0])
}

func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
