package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver string
	DBDSN    string

	AuthHMACSecret string
	AdminUser      string
	AdminPassHash  string // bcrypt

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	// Scoring oracle (external text-evaluation service)
	OracleBaseURL       string
	OracleAPIKey        string
	OracleModel         string
	OracleFallbackModel string
	OracleTimeout       time.Duration
	OracleMaxAttempts   int
	OracleRatePerMinute int

	// Performance-index weights; must sum to 1.
	WeightChallenge   float64
	WeightCompetency  float64
	WeightConsistency float64

	// Kalman filter noise constants.
	ProcessNoise     float64 // Q
	MeasurementNoise float64 // R

	// PID gains for the difficulty controller.
	PIDKp float64
	PIDKi float64
	PIDKd float64

	// Time budget for a single SPI recompute; independent from the ledger
	// write path.
	SPIRecomputeTimeout time.Duration
	MerkleBatchSize     int
	MerkleSealInterval  time.Duration
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		Mode:     mode,
		HTTPAddr: addr,

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		AuthHMACSecret: envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		AdminUser:      envOr("ADMIN_USER", "admin"),
		AdminPassHash:  envOr("ADMIN_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"),

		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://app.clarion-edu.com"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:3010"),

		OracleBaseURL:       envOr("ORACLE_BASE_URL", "https://api.mistral.ai/v1"),
		OracleAPIKey:        os.Getenv("ORACLE_API_KEY"),
		OracleModel:         envOr("ORACLE_MODEL", "mistral-large-latest"),
		OracleFallbackModel: envOr("ORACLE_FALLBACK_MODEL", "mistral-small-latest"),
		OracleTimeout:       envDuration("ORACLE_TIMEOUT", 30*time.Second),
		OracleMaxAttempts:   envInt("ORACLE_MAX_ATTEMPTS", 4),
		OracleRatePerMinute: envInt("ORACLE_RATE_PER_MINUTE", 40),

		WeightChallenge:   envFloat("SPI_WEIGHT_CHALLENGE", 0.60),
		WeightCompetency:  envFloat("SPI_WEIGHT_COMPETENCY", 0.25),
		WeightConsistency: envFloat("SPI_WEIGHT_CONSISTENCY", 0.15),

		ProcessNoise:     envFloat("KALMAN_PROCESS_NOISE", 5),
		MeasurementNoise: envFloat("KALMAN_MEASUREMENT_NOISE", 15),

		PIDKp: envFloat("PID_KP", 0.5),
		PIDKi: envFloat("PID_KI", 0.1),
		PIDKd: envFloat("PID_KD", 0.2),

		SPIRecomputeTimeout: envDuration("SPI_RECOMPUTE_TIMEOUT", 15*time.Second),
		MerkleBatchSize:     envInt("MERKLE_BATCH_SIZE", 64),
		MerkleSealInterval:  envDuration("MERKLE_SEAL_INTERVAL", time.Minute),
	}
}

// Validate rejects weight sets that do not sum to one. Called once at startup
// so a bad deployment fails fast instead of producing skewed indexes.
func (c Config) Validate() error {
	sum := c.WeightChallenge + c.WeightCompetency + c.WeightConsistency
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("spi weights must sum to 1, got %v", sum)
	}
	if c.WeightChallenge < 0 || c.WeightCompetency < 0 || c.WeightConsistency < 0 {
		return fmt.Errorf("spi weights must be non-negative")
	}
	if c.ProcessNoise <= 0 || c.MeasurementNoise <= 0 {
		return fmt.Errorf("kalman noise constants must be positive")
	}
	if c.MerkleBatchSize <= 0 {
		return fmt.Errorf("merkle batch size must be positive")
	}
	return nil
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
