package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	api "github.com/clarion-edu/clarion-backend/internal/api/http"
	auth "github.com/clarion-edu/clarion-backend/internal/auth/middleware"
	"github.com/clarion-edu/clarion-backend/internal/challenge"
	"github.com/clarion-edu/clarion-backend/internal/config"
	"github.com/clarion-edu/clarion-backend/internal/db"
	"github.com/clarion-edu/clarion-backend/internal/ledger"
	"github.com/clarion-edu/clarion-backend/internal/merkle"
	"github.com/clarion-edu/clarion-backend/internal/oracle"
	"github.com/clarion-edu/clarion-backend/internal/rbac"
	"github.com/clarion-edu/clarion-backend/internal/scoring"
	"github.com/clarion-edu/clarion-backend/internal/spi"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal("bad configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer dbh.Close()

	// --- Stores ---
	events := ledger.NewStore(dbh)
	batches := merkle.NewBatchStore(dbh)
	verifier := merkle.NewVerifier(events)
	challenges := challenge.NewSQLStore(dbh)
	spiStore := spi.NewStore(dbh)

	// --- Scoring + aggregation ---
	estimator := scoring.NewAbilityEstimator(cfg.ProcessNoise, cfg.MeasurementNoise)
	pid := scoring.NewDifficultyController(cfg.PIDKp, cfg.PIDKi, cfg.PIDKd)
	agg := spi.NewAggregator(events, spiStore, estimator, pid, spi.Weights{
		Challenge:   cfg.WeightChallenge,
		Competency:  cfg.WeightCompetency,
		Consistency: cfg.WeightConsistency,
	}, log.Named("spi"))

	// --- Oracle + evaluation pipeline ---
	policy := oracle.DefaultRetryPolicy(cfg.OracleFallbackModel)
	policy.MaxAttempts = cfg.OracleMaxAttempts
	judge := oracle.NewClient(cfg.OracleBaseURL, cfg.OracleAPIKey, cfg.OracleModel,
		policy, oracle.NewTokenBucket(cfg.OracleRatePerMinute), cfg.OracleTimeout, log.Named("oracle"))
	pipeline := challenge.NewPipeline(challenges, events, challenge.NewGrader(judge),
		agg, cfg.SPIRecomputeTimeout, log.Named("pipeline"))

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.AuthHMACSecret)
	creds := map[string]auth.Credential{
		cfg.AdminUser: {PasswordHash: cfg.AdminPassHash, Role: "admin"},
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(log), middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := cfg.CORSOriginsOffline
	if cfg.Mode == config.ModeOnline {
		origins = cfg.CORSOriginsOnline
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, creds))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ownStudent := func(req *http.Request) bool {
		return rbac.SubjectFromContext(req.Context()) == chi.URLParam(req, "studentRef")
	}

	// Protected API (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		// Ledger
		pr.With(rbac.Require("ledger:append")).
			Post("/ledger/events", api.AppendEventHandler(events))
		pr.With(rbac.Require("ledger:view")).
			Get("/ledger/events", api.QueryEventsHandler(events))
		pr.With(rbac.Require("ledger:view")).
			Get("/ledger/events/{eventID}", api.GetEventHandler(events))

		// Integrity
		pr.With(rbac.Require("integrity:verify")).
			Get("/integrity/students/{studentRef}", api.VerifyIntegrityHandler(verifier))
		pr.With(rbac.Require("integrity:verify")).
			Post("/integrity/batches", api.BuildMerkleBatchHandler(verifier, batches))
		pr.With(rbac.Require("integrity:verify")).
			Post("/integrity/batches/{rootHash}/verify", api.VerifyMerkleBatchHandler(verifier, batches))

		// Performance index
		pr.With(rbac.Require("spi:calculate")).
			Post("/students/{studentRef}/spi", api.CalculateSPIHandler(agg))
		pr.With(rbac.RequireOwnerOr("spi:view", "spi:view-own", ownStudent)).
			Get("/students/{studentRef}/spi", api.GetLatestSnapshotHandler(spiStore))
		pr.With(rbac.RequireOwnerOr("spi:view", "spi:view-own", ownStudent)).
			Get("/students/{studentRef}/spi/history", api.SnapshotHistoryHandler(spiStore))
		pr.With(rbac.RequireOwnerOr("spi:view", "spi:view-own", ownStudent)).
			Get("/students/{studentRef}/trend", api.TrendHandler(agg))
		pr.With(rbac.RequireOwnerOr("difficulty:view", "difficulty:view-own", ownStudent)).
			Get("/students/{studentRef}/difficulty/recommended", api.RecommendedDifficultyHandler(agg))
		pr.With(rbac.RequireOwnerOr("difficulty:view", "difficulty:view-own", ownStudent)).
			Get("/students/{studentRef}/difficulty/optimal", api.OptimalDifficultyHandler(agg))

		// Challenge lifecycle
		pr.With(rbac.Require("challenge:create")).
			Post("/challenges", api.CreateChallengeHandler(challenges))
		pr.With(rbac.RequireAny("challenge:view-own", "challenge:view")).
			Get("/challenges/{challengeID}", api.GetChallengeHandler(challenges))
		pr.With(rbac.Require("challenge:respond")).
			Post("/challenges/{challengeID}/responses", api.SaveChallengeResponsesHandler(challenges))
		pr.With(rbac.Require("challenge:submit")).
			Post("/challenges/{challengeID}/submit", api.SubmitChallengeHandler(challenges))
		pr.With(rbac.Require("challenge:evaluate")).
			Post("/challenges/{challengeID}/evaluate", api.EvaluateChallengeHandler(pipeline))

		// Admin oversight
		pr.With(rbac.Require("ledger:void")).
			Post("/admin/evaluations/{eventID}/void", api.VoidEvaluationHandler(events))
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("gateway listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("mode", string(cfg.Mode)),
			zap.String("db", cfg.DBDriver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	pipeline.Wait()
	log.Info("gateway stopped")
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}
