package app

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shandysiswandi/courier/internal/delivery/outbound/provider"
	"github.com/shandysiswandi/courier/internal/pkg/clock"
	"github.com/shandysiswandi/courier/internal/pkg/config"
	"github.com/shandysiswandi/courier/internal/pkg/goroutine"
	"github.com/shandysiswandi/courier/internal/pkg/idempotency"
	"github.com/shandysiswandi/courier/internal/pkg/instrument"
	"github.com/shandysiswandi/courier/internal/pkg/mail"
	"github.com/shandysiswandi/courier/internal/pkg/queue"
	"github.com/shandysiswandi/courier/internal/pkg/render"
	"github.com/shandysiswandi/courier/internal/pkg/storage"
	"github.com/shandysiswandi/courier/internal/pkg/uid"
	"github.com/shandysiswandi/courier/internal/pkg/validator"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

func (a *App) initConfig() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "/config/config.yaml"
		if os.Getenv("LOCAL") == "true" {
			path = "./config/config.yaml"
		}
	}

	cfg, err := config.NewViper(path)
	if err != nil {
		slog.Error("failed to init config", "error", err)
		os.Exit(1)
	}

	//nolint:errcheck,gosec // ignore error
	os.Setenv("TZ", cfg.GetString("app.tz"))

	a.config = cfg
}

func (a *App) initInstrument() {
	ins, err := instrument.New(context.Background(), &instrument.Config{
		Enabled:          true,
		ServiceName:      a.config.GetString("instrument.service_name"),
		ServiceVersion:   a.config.GetString("instrument.service_version"),
		Environment:      a.config.GetString("instrument.env"),
		OTLPEndpoint:     a.config.GetString("instrument.otlp_endpoint"),
		OTLPSecure:       a.config.GetBool("instrument.otlp_secure"),
		TraceSampleRatio: a.config.GetFloat64("instrument.trace_sample_ratio"),
		MetricsInterval:  a.config.GetSecond("instrument.metric_interval_seconds"),
		MaskFields:       a.config.GetArray("instrument.log_mask_fields"),
	})
	if err != nil {
		slog.Error("failed to init instrumentation", "error", err)
		os.Exit(1)
	}
	a.ins = ins
}

func (a *App) initLibraries() {
	a.clock = clock.New()
	a.uuid = uid.NewUUID()
	a.goroutine = goroutine.NewManager(a.config.GetInt("app.max_goroutine"))

	validator, err := validator.NewV10Validator()
	if err != nil {
		slog.Error("failed to init validation v10 validator", "error", err)
		os.Exit(1)
	}
	a.validator = validator

	snow, err := uid.NewSnowflake()
	if err != nil {
		slog.Error("failed to init uid number snowflake", "error", err)
		os.Exit(1)
	}
	a.uid = snow
}

func (a *App) initDatabase() {
	config, err := pgxpool.ParseConfig(a.config.GetString("database.url"))
	if err != nil {
		slog.Error("failed to parse DB connection string.", "error", err)
		os.Exit(1)
	}

	config.MaxConns = a.config.GetInt32("database.pool.max_conns")
	config.MinConns = a.config.GetInt32("database.pool.min_conns")
	config.MaxConnLifetime = a.config.GetSecond("database.pool.max_conn_lifetime_seconds")
	config.MaxConnIdleTime = a.config.GetSecond("database.pool.max_conn_idle_seconds")
	config.HealthCheckPeriod = a.config.GetSecond("database.pool.health_check_period_seconds")

	pool, err := pgxpool.NewWithConfig(a.ctx, config)
	if err != nil {
		slog.Error("failed to create DB connection pool", "error", err)
		os.Exit(1)
	}

	pingCtx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		slog.Error("failed to ping DB", "error", err)
		os.Exit(1)
	}

	a.dbConn = pool
}

func (a *App) initCache() {
	opt, err := redis.ParseURL(a.config.GetString("redis.url"))
	if err != nil {
		slog.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Error("failed to init redis", "error", err)
		os.Exit(1)
	}

	a.cacheConn = rdb
	a.idemp = idempotency.New(a.cacheConn)
}

func (a *App) initQueue() {
	driver := a.config.GetString("queue.driver")
	gateway, err := queue.NewFromDriver(driver, queue.FactoryOptions{
		NATS: queue.NATSConfig{
			URL: a.config.GetString("queue.nats.url"),
			Options: []nats.Option{
				nats.Name(a.config.GetString("queue.nats.name")),
				nats.MaxReconnects(a.config.GetInt("queue.nats.max_reconnects")),
				nats.Timeout(a.config.GetSecond("queue.nats.timeout_seconds")),
				nats.ReconnectWait(a.config.GetSecond("queue.nats.reconnect_wait_seconds")),
				nats.PingInterval(a.config.GetSecond("queue.nats.ping_interval_seconds")),
				nats.MaxPingsOutstanding(a.config.GetInt("queue.nats.max_pings_outstanding")),
				nats.RetryOnFailedConnect(a.config.GetBool("queue.nats.retry_on_failed_connect")),
			},
		},
		Redis: queue.RedisConfig{
			Client:   a.cacheConn,
			Consumer: a.config.GetString("app.instance_id"),
		},
		Kafka: queue.KafkaConfig{
			Brokers: a.config.GetArray("queue.kafka.brokers"),
			Dialer: &kafka.Dialer{
				Timeout:   a.config.GetSecond("queue.kafka.dial_timeout_seconds"),
				DualStack: true,
			},
		},
	})
	if err != nil {
		slog.Error("failed to init queue", "error", err, "driver", driver)
		os.Exit(1)
	}

	a.queue = gateway
}

//nolint:gocognit // it's fine
func (a *App) initStorage() {
	driver := strings.TrimSpace(a.config.GetString("storage.driver"))

	var gcsClient *gcs.Client
	if driver == storage.DriverGCS {
		gcsOptions := []option.ClientOption{}
		if a.config.GetBool("storage.gcs.without_auth") {
			gcsOptions = append(gcsOptions, option.WithoutAuthentication())
		}
		if v := strings.TrimSpace(a.config.GetString("storage.gcs.credentials_file")); v != "" {
			// #nosec G304 -- path is from trusted config file.
			credsJSON, err := os.ReadFile(v)
			if err != nil {
				slog.Error("failed to read gcs credentials file", "error", err)
				os.Exit(1)
			}
			creds, err := google.CredentialsFromJSON(a.ctx, credsJSON, gcs.ScopeFullControl)
			if err != nil {
				slog.Error("failed to parse gcs credentials file", "error", err)
				os.Exit(1)
			}
			gcsOptions = append(gcsOptions, option.WithCredentials(creds))
		}
		if v := a.config.GetBinary("storage.gcs.credentials_json"); len(v) > 0 {
			creds, err := google.CredentialsFromJSON(a.ctx, v, gcs.ScopeFullControl)
			if err != nil {
				slog.Error("failed to parse gcs credentials json", "error", err)
				os.Exit(1)
			}
			gcsOptions = append(gcsOptions, option.WithCredentials(creds))
		}
		if v := strings.TrimSpace(a.config.GetString("storage.gcs.endpoint")); v != "" {
			gcsOptions = append(gcsOptions, option.WithEndpoint(v))
		}
		if v := strings.TrimSpace(a.config.GetString("storage.gcs.user_agent")); v != "" {
			gcsOptions = append(gcsOptions, option.WithUserAgent(v))
		}
		if len(gcsOptions) > 0 {
			client, err := gcs.NewClient(a.ctx, gcsOptions...)
			if err != nil {
				slog.Error("failed to init gcs client", "error", err)
				os.Exit(1)
			}
			gcsClient = client
		}
	}

	stg, err := storage.NewFromDriver(a.ctx, driver, storage.FactoryOptions{
		S3: storage.S3Options{
			Region:       strings.TrimSpace(a.config.GetString("storage.s3.region")),
			Endpoint:     strings.TrimSpace(a.config.GetString("storage.s3.endpoint")),
			AccessKey:    strings.TrimSpace(a.config.GetString("storage.s3.access_key")),
			SecretKey:    strings.TrimSpace(a.config.GetString("storage.s3.secret_key")),
			SessionToken: strings.TrimSpace(a.config.GetString("storage.s3.session_token")),
			UsePathStyle: a.config.GetBool("storage.s3.use_path_style"),
		},
		GCS: storage.GCSOptions{
			Client:         gcsClient,
			GoogleAccessID: strings.TrimSpace(a.config.GetString("storage.gcs.signer_access_id")),
			PrivateKey:     a.config.GetBinary("storage.gcs.signer_private_key"),
		},
		MinIO: storage.MinIOOptions{
			Region:       strings.TrimSpace(a.config.GetString("storage.minio.region")),
			Endpoint:     strings.TrimSpace(a.config.GetString("storage.minio.endpoint")),
			AccessKey:    strings.TrimSpace(a.config.GetString("storage.minio.access_key")),
			SecretKey:    strings.TrimSpace(a.config.GetString("storage.minio.secret_key")),
			SessionToken: strings.TrimSpace(a.config.GetString("storage.minio.session_token")),
			UseSSL:       a.config.GetBool("storage.minio.use_ssl"),
		},
	})
	if err != nil {
		slog.Error("failed to init storage", "error", err)
		os.Exit(1)
	}

	a.storage = stg
}

func (a *App) initProviders() {
	registry := provider.NewRegistry()

	for _, id := range a.config.GetArray("mail.provider_ids") {
		base := "mail.providers." + id

		var (
			client mail.Provider
			err    error
		)
		switch driver := a.config.GetString(base + ".driver"); driver {
		case "smtp":
			client, err = mail.NewSMTP(mail.SMTPConfig{
				Host:     a.config.GetString(base + ".host"),
				Port:     a.config.GetInt(base + ".port"),
				Username: a.config.GetString(base + ".username"),
				Password: a.config.GetString(base + ".password"),
				From:     a.config.GetString(base + ".from"),
			})
		case "ses":
			client, err = mail.NewSES(a.ctx, mail.SESConfig{
				Region:    a.config.GetString(base + ".region"),
				AccessKey: a.config.GetString(base + ".access_key"),
				SecretKey: a.config.GetString(base + ".secret_key"),
				From:      a.config.GetString(base + ".from"),
			})
		default:
			slog.Error("unknown mail provider driver", "provider", id, "driver", driver)
			os.Exit(1)
		}
		if err != nil {
			slog.Error("failed to init mail provider", "provider", id, "error", err)
			os.Exit(1)
		}

		if err := registry.Register(provider.New(id, client, a.ins)); err != nil {
			slog.Error("failed to register mail provider", "provider", id, "error", err)
			os.Exit(1)
		}
	}

	a.providers = registry
}

func (a *App) initRenderer() {
	dir := strings.TrimSpace(a.config.GetString("modules.delivery.templates_dir"))
	if dir == "" {
		dir = "./templates"
	}

	a.renderer = render.NewFS(os.DirFS(dir))
}

func (a *App) initClosers() {
	a.closers = []struct {
		name string
		fn   func(context.Context) error
	}{
		{
			name: "Instrument",
			fn: func(ctx context.Context) error {
				return a.ins.Shutdown(ctx)
			},
		},
		{
			name: "Queue",
			fn: func(context.Context) error {
				return a.queue.Close()
			},
		},
		{
			name: "Providers",
			fn: func(context.Context) error {
				return a.providers.Close()
			},
		},
		{
			name: "Redis",
			fn: func(context.Context) error {
				return a.cacheConn.Close()
			},
		},
		{
			name: "Database",
			fn: func(context.Context) error {
				a.dbConn.Close()

				return nil
			},
		},
		{
			name: "Storage",
			fn: func(context.Context) error {
				return a.storage.Close()
			},
		},
		{
			name: "Config",
			fn: func(context.Context) error {
				return a.config.Close()
			},
		},
	}
}
