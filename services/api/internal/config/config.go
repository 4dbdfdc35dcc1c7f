package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for snapshotd.
type Config struct {
	Addr          string `env:"ADDR,default=:8080"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	StoreDriver  string `env:"STORE_DRIVER,default=local"`
	LocalDataDir string `env:"LOCAL_DATA_DIR,default=./data"`
	DatabaseDSN  string `env:"DATABASE_DSN"`
	AutoMigrate  bool   `env:"DB_AUTO_MIGRATE,default=true"`

	BlobBackend            string `env:"BLOB_BACKEND,default=s3"`
	BlobBucket             string `env:"BLOB_BUCKET"`
	ShareObjectPrefix      string `env:"SHARE_OBJECT_PREFIX,default=shares"`
	GenerationObjectPrefix string `env:"GENERATION_OBJECT_PREFIX,default=generations"`

	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL,default=false"`

	QuotaBackend  string `env:"QUOTA_BACKEND,default=store"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`
	RedisPrefix   string `env:"REDIS_KEY_PREFIX,default=snapshotd:quota:"`

	AnonGenerationLimit int `env:"GENERATION_ANON_LIMIT,default=3"`
	GlobalDailyLimit    int `env:"GENERATION_GLOBAL_DAILY_LIMIT,default=0"`

	JobsEnabled        bool          `env:"JOBS_ENABLED,default=true"`
	JobsInlineFallback bool          `env:"JOBS_INLINE_FALLBACK,default=true"`
	JobsInlineTimeout  time.Duration `env:"JOBS_INLINE_TIMEOUT,default=2m"`
	NATSURL            string        `env:"NATS_URL"`
	JobsStream         string        `env:"JOBS_STREAM,default=SNAPSHOT_JOBS"`
	JobsSubject        string        `env:"JOBS_SUBJECT,default=snapshotd.jobs.share"`
	JobsDurable        string        `env:"JOBS_DURABLE,default=snapshotd-relay"`
	JobsMaxDeliver     int           `env:"JOBS_MAX_DELIVER,default=8"`
	JobsAckWait        time.Duration `env:"JOBS_ACK_WAIT,default=90s"`
	JobsRetryBackoff   time.Duration `env:"JOBS_RETRY_BACKOFF,default=10s"`

	WorkerURL        string   `env:"WORKER_URL"`
	WorkerToken      string   `env:"WORKER_TOKEN"`
	WorkerIdentity   string   `env:"WORKER_IDENTITY"`
	WorkerAudiences  []string `env:"WORKER_AUDIENCES"`
	WorkerSigningKey string   `env:"WORKER_SIGNING_KEY"`
	WorkerVerifyKey  string   `env:"WORKER_VERIFY_KEY"`

	SessionSecret  string   `env:"SESSION_SECRET"`
	CookieDomain   string   `env:"COOKIE_DOMAIN"`
	CookieSecure   bool     `env:"COOKIE_SECURE,default=false"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`

	RateLimitMutations int           `env:"RATE_LIMIT_MUTATIONS,default=60"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
	MaxPayloadMB       int           `env:"MAX_PAYLOAD_MB,default=4"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`
	LogFormat    string `env:"LOG_FORMAT,default=json"`
}

// Load reads an optional .env file and then the process environment.
func Load(ctx context.Context) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

// LoadFrom is Load over an explicit variable set.
func LoadFrom(ctx context.Context, vars map[string]string) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.MapLookuper(vars),
	}); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.BlobBackend = strings.ToLower(strings.TrimSpace(c.BlobBackend))
	c.QuotaBackend = strings.ToLower(strings.TrimSpace(c.QuotaBackend))
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
}

// Validate enforces rules that span several variables.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case "local":
		if c.LocalDataDir == "" {
			errs = append(errs, errors.New("LOCAL_DATA_DIR is required for the local driver"))
		}
	case "postgres":
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required for the postgres driver"))
		}
		if c.BlobBucket == "" {
			errs = append(errs, errors.New("BLOB_BUCKET is required for the postgres driver"))
		}
		switch c.BlobBackend {
		case "s3", "gcs":
		case "minio":
			if c.MinioEndpoint == "" {
				errs = append(errs, errors.New("MINIO_ENDPOINT is required for the minio blob backend"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.QuotaBackend {
	case "store":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis quota backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown QUOTA_BACKEND %q", c.QuotaBackend))
	}

	if c.MaxPayloadMB <= 0 {
		errs = append(errs, errors.New("MAX_PAYLOAD_MB must be positive"))
	}
	if c.WorkerSigningKey != "" && (c.WorkerIdentity == "" || len(c.WorkerAudiences) == 0) {
		errs = append(errs, errors.New("WORKER_SIGNING_KEY requires WORKER_IDENTITY and WORKER_AUDIENCES"))
	}

	return errors.Join(errs...)
}

// ValidateRelay checks the settings the relay needs on top of Validate.
func (c Config) ValidateRelay() error {
	var errs []error
	if c.NATSURL == "" {
		errs = append(errs, errors.New("NATS_URL is required"))
	}
	if c.WorkerURL == "" {
		errs = append(errs, errors.New("WORKER_URL is required"))
	}
	if c.WorkerToken == "" && c.WorkerSigningKey == "" {
		errs = append(errs, errors.New("WORKER_TOKEN or WORKER_SIGNING_KEY is required"))
	}
	return errors.Join(errs...)
}

// MaxPayloadBytes is the request body limit.
func (c Config) MaxPayloadBytes() int64 {
	return int64(c.MaxPayloadMB) << 20
}

// WorkerAudience is the audience stamped on outgoing worker tokens.
func (c Config) WorkerAudience() string {
	if len(c.WorkerAudiences) == 0 {
		return ""
	}
	return c.WorkerAudiences[0]
}
