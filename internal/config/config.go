package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Alerting  AlertingConfig
	Notify    NotifyConfig
	Prober    ProberConfig
	Workers   WorkersConfig
	Beat      BeatConfig
	Retention RetentionConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Port        string
	Mode        string
	LogLevel    string
	Environment string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
	MigrationsPath string
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret      string
	APIKeyCacheTTL time.Duration
}

type AlertingConfig struct {
	DefaultReminderMinutes           int
	GracePeriodSecondsDefault        int
	ConsecutiveFailuresDefault       int
	HeartbeatThresholdMinutesDefault int
	MetricNoDataSeconds              int
	StaleIncidentMaxAgeHours         int
}

type NotifyConfig struct {
	SlackWebhook        string
	SlackDefaultChannel string
	StubSlack           bool
	SMTPDSN             string
	EmailFrom           string
	MaxAttempts         int
	RatePerMinute       int
	SendTimeout         time.Duration
}

type ProberConfig struct {
	Concurrency int
	PerClient   int
}

type WorkersConfig struct {
	Ingest    int
	Evaluate  int
	Notify    int
	Heartbeat int
	Outbox    int
}

type BeatConfig struct {
	EvaluateInterval      time.Duration
	HeartbeatInterval     time.Duration
	HTTPSweepInterval     time.Duration
	OutboxInterval        time.Duration
	ReminderInterval      time.Duration
	MachineStatusInterval time.Duration
	StalenessInterval     time.Duration
	PurgeInterval         time.Duration
}

type RetentionConfig struct {
	SampleRetentionMinutes int
	SamplePurgeBatch       int
}

// MetricsConfig drives the optional remote write push. Empty URL means
// scrape-only.
type MetricsConfig struct {
	RemoteWriteURL      string
	RemoteWriteTenant   string
	RemoteWriteInterval time.Duration
}

func Load() (*Config, error) {
	// .env is optional, real deployments inject plain environment variables
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("FLEETWATCH")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.loglevel", "info")
	viper.SetDefault("server.environment", "production")
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("database.migrationspath", "migrations")
	viper.SetDefault("auth.apikeycachettl", "10s")
	viper.SetDefault("alerting.defaultreminderminutes", 30)
	viper.SetDefault("alerting.graceperiodsecondsdefault", 0)
	viper.SetDefault("alerting.consecutivefailuresdefault", 0)
	viper.SetDefault("alerting.heartbeatthresholdminutesdefault", 5)
	viper.SetDefault("alerting.metricnodataseconds", 300)
	viper.SetDefault("alerting.staleincidentmaxagehours", 24)
	viper.SetDefault("notify.slackdefaultchannel", "#alerts")
	viper.SetDefault("notify.emailfrom", "alerts@fleetwatch.local")
	viper.SetDefault("notify.maxattempts", 5)
	viper.SetDefault("notify.rateperminute", 10)
	viper.SetDefault("notify.sendtimeout", "10s")
	viper.SetDefault("prober.concurrency", 16)
	viper.SetDefault("prober.perclient", 4)
	viper.SetDefault("workers.ingest", 2)
	viper.SetDefault("workers.evaluate", 8)
	viper.SetDefault("workers.notify", 4)
	viper.SetDefault("workers.heartbeat", 2)
	viper.SetDefault("workers.outbox", 2)
	viper.SetDefault("beat.evaluateinterval", "60s")
	viper.SetDefault("beat.heartbeatinterval", "120s")
	viper.SetDefault("beat.httpsweepinterval", "60s")
	viper.SetDefault("beat.outboxinterval", "30s")
	viper.SetDefault("beat.reminderinterval", "60s")
	viper.SetDefault("beat.machinestatusinterval", "30s")
	viper.SetDefault("beat.stalenessinterval", "60s")
	viper.SetDefault("beat.purgeinterval", "300s")
	viper.SetDefault("retention.sampleretentionminutes", 120)
	viper.SetDefault("retention.samplepurgebatch", 200000)
	viper.SetDefault("metrics.remotewritetenant", "fleetwatch")
	viper.SetDefault("metrics.remotewriteinterval", "30s")

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if port := os.Getenv("HTTP_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Server.Environment = v
	}
	if hook := os.Getenv("SLACK_WEBHOOK"); hook != "" {
		cfg.Notify.SlackWebhook = hook
	}
	if ch := os.Getenv("SLACK_DEFAULT_CHANNEL"); ch != "" {
		cfg.Notify.SlackDefaultChannel = ch
	}
	if v := os.Getenv("STUB_SLACK"); v == "1" || v == "true" {
		cfg.Notify.StubSlack = true
	}
	if dsn := os.Getenv("SMTP_DSN"); dsn != "" {
		cfg.Notify.SMTPDSN = dsn
	}
	if from := os.Getenv("EMAIL_FROM"); from != "" {
		cfg.Notify.EmailFrom = from
	}
	if url := os.Getenv("METRICS_REMOTE_WRITE_URL"); url != "" {
		cfg.Metrics.RemoteWriteURL = url
	}
	if tenant := os.Getenv("METRICS_REMOTE_WRITE_TENANT"); tenant != "" {
		cfg.Metrics.RemoteWriteTenant = tenant
	}

	envInt("DEFAULT_ALERT_REMINDER_MINUTES", &cfg.Alerting.DefaultReminderMinutes)
	envInt("GRACE_PERIOD_SECONDS_DEFAULT", &cfg.Alerting.GracePeriodSecondsDefault)
	envInt("CONSECUTIVE_FAILURES_DEFAULT", &cfg.Alerting.ConsecutiveFailuresDefault)
	envInt("HEARTBEAT_THRESHOLD_MINUTES_DEFAULT", &cfg.Alerting.HeartbeatThresholdMinutesDefault)
	envInt("METRIC_NO_DATA_SECONDS", &cfg.Alerting.MetricNoDataSeconds)
	envInt("STALE_INCIDENT_MAX_AGE_HOURS", &cfg.Alerting.StaleIncidentMaxAgeHours)
	envInt("NOTIFY_MAX_ATTEMPTS", &cfg.Notify.MaxAttempts)
	envInt("NOTIFY_RATE_PER_MINUTE", &cfg.Notify.RatePerMinute)
	envInt("HTTP_PROBER_CONCURRENCY", &cfg.Prober.Concurrency)
	envInt("HTTP_PROBER_PER_CLIENT", &cfg.Prober.PerClient)
	envInt("SAMPLE_RETENTION_MINUTES", &cfg.Retention.SampleRetentionMinutes)
	envInt("SAMPLE_PURGE_BATCH", &cfg.Retention.SamplePurgeBatch)
	envInt("WORKERS_INGEST", &cfg.Workers.Ingest)
	envInt("WORKERS_EVALUATE", &cfg.Workers.Evaluate)
	envInt("WORKERS_NOTIFY", &cfg.Workers.Notify)
	envInt("WORKERS_HEARTBEAT", &cfg.Workers.Heartbeat)
	envInt("WORKERS_OUTBOX", &cfg.Workers.Outbox)

	envSeconds("API_KEY_CACHE_TTL_SECONDS", &cfg.Auth.APIKeyCacheTTL)
	envSeconds("EVALUATE_INTERVAL_SECONDS", &cfg.Beat.EvaluateInterval)
	envSeconds("HEARTBEAT_INTERVAL_SECONDS", &cfg.Beat.HeartbeatInterval)
	envSeconds("HTTP_SWEEP_INTERVAL_SECONDS", &cfg.Beat.HTTPSweepInterval)
	envSeconds("OUTBOX_INTERVAL_SECONDS", &cfg.Beat.OutboxInterval)
	envSeconds("REMINDER_INTERVAL_SECONDS", &cfg.Beat.ReminderInterval)
	envSeconds("MACHINE_STATUS_INTERVAL_SECONDS", &cfg.Beat.MachineStatusInterval)
	envSeconds("STALENESS_INTERVAL_SECONDS", &cfg.Beat.StalenessInterval)
	envSeconds("PURGE_INTERVAL_SECONDS", &cfg.Beat.PurgeInterval)
	envSeconds("METRICS_REMOTE_WRITE_INTERVAL_SECONDS", &cfg.Metrics.RemoteWriteInterval)

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Redis.URL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	return &cfg, nil
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		fmt.Sscanf(v, "%d", dst)
	}
}

func envSeconds(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		*dst = time.Duration(n) * time.Second
	}
}
