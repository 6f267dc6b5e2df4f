// sealerd runs the background Merkle sealer: it folds confirmed ledger
// events into tamper-evident batches on an interval. Runs alongside the
// gateway against the same database.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clarion-edu/clarion-backend/internal/config"
	"github.com/clarion-edu/clarion-backend/internal/db"
	"github.com/clarion-edu/clarion-backend/internal/ledger"
	"github.com/clarion-edu/clarion-backend/internal/merkle"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal("bad configuration", zap.Error(err))
	}

	openCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer dbh.Close()

	events := ledger.NewStore(dbh)
	sealer := merkle.NewSealer(dbh, merkle.NewVerifier(events), merkle.NewBatchStore(dbh), log.Named("sealer"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("sealer running",
		zap.Duration("interval", cfg.MerkleSealInterval),
		zap.Int("batch_size", cfg.MerkleBatchSize))
	sealer.Run(ctx, cfg.MerkleSealInterval, cfg.MerkleBatchSize)
	log.Info("sealer stopped")
}
