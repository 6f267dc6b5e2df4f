package merkle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sealer periodically folds confirmed-but-unsealed ledger events into
// persisted batches. Sealing never touches event content; it only stamps the
// batch root onto the covered rows so they are not sealed twice.
type Sealer struct {
	db       *sql.DB
	verifier *Verifier
	batches  *BatchStore
	log      *zap.Logger
}

func NewSealer(db *sql.DB, verifier *Verifier, batches *BatchStore, log *zap.Logger) *Sealer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sealer{db: db, verifier: verifier, batches: batches, log: log}
}

// SealOnce seals at most one batch of up to batchSize events, oldest first.
// It returns the number of events sealed; zero means nothing was pending.
func (s *Sealer) SealOnce(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batch size must be positive")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM ledger_events
		 WHERE status='confirmed' AND sealed_root IS NULL
		 ORDER BY ts ASC LIMIT `+fmt.Sprint(batchSize))
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	b, err := s.verifier.BuildTree(ctx, ids)
	if err != nil {
		return 0, err
	}
	if err := s.batches.Save(ctx, b); err != nil {
		return 0, err
	}

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, b.RootHash)
	ph := make([]string, len(ids))
	for i, id := range ids {
		ph[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE ledger_events SET sealed_root=$1 WHERE id IN (`+strings.Join(ph, ",")+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("stamp sealed events: %w", err)
	}
	return len(ids), nil
}

// Run seals on a ticker until ctx is canceled, draining all pending events
// each tick.
func (s *Sealer) Run(ctx context.Context, interval time.Duration, batchSize int) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for {
				n, err := s.SealOnce(ctx, batchSize)
				if err != nil {
					s.log.Warn("seal pass failed", zap.Error(err))
					break
				}
				if n == 0 {
					break
				}
				s.log.Info("sealed batch", zap.Int("events", n))
			}
		}
	}
}
