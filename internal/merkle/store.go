package merkle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// BatchStore persists sealed batches so roots can be re-checked later against
// the live ledger.
type BatchStore struct {
	db *sql.DB
}

func NewBatchStore(db *sql.DB) *BatchStore { return &BatchStore{db: db} }

func (s *BatchStore) Save(ctx context.Context, b Batch) error {
	leaves, err := json.Marshal(b.LeafHashes)
	if err != nil {
		return err
	}
	ids, err := json.Marshal(b.EventIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO merkle_batches (root_hash, leaf_hashes_json, event_ids_json, computed_at)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (root_hash) DO NOTHING`,
		b.RootHash, string(leaves), string(ids), b.ComputedAt.UnixNano())
	return err
}

func (s *BatchStore) Get(ctx context.Context, rootHash string) (Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT root_hash, leaf_hashes_json, event_ids_json, computed_at
		 FROM merkle_batches WHERE root_hash=$1`, rootHash)
	var b Batch
	var leaves, ids string
	var computedAt int64
	if err := row.Scan(&b.RootHash, &leaves, &ids, &computedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Batch{}, fmt.Errorf("merkle batch %s not found", rootHash)
		}
		return Batch{}, err
	}
	if err := json.Unmarshal([]byte(leaves), &b.LeafHashes); err != nil {
		return Batch{}, err
	}
	if err := json.Unmarshal([]byte(ids), &b.EventIDs); err != nil {
		return Batch{}, err
	}
	b.ComputedAt = time.Unix(0, computedAt).UTC()
	return b, nil
}
