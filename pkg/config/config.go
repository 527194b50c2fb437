// Package config resolves coordinator runtime parameters from the
// environment into a single frozen Config value, constructed once at
// startup and passed by reference (spec.md §9 design note: consolidate
// global environment reads). Wiring follows the teacher's
// internal/util.InitConfig, minus the TOML file layer: this service has no
// deployable config file, only environment variables (spec.md §6).
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// SubmissionStorage selects the SubmissionStore backend.
type SubmissionStorage string

const (
	StorageCassandra SubmissionStorage = "cassandra"
	StoragePostgres  SubmissionStorage = "postgres"
)

// DispatcherVariant selects the WorkerDispatcher backend.
type DispatcherVariant string

const (
	DispatcherPods      DispatcherVariant = "pods"
	DispatcherProcesses DispatcherVariant = "processes"
)

// Config is the typed, validated view over the process environment.
type Config struct {
	ko *koanf.Koanf

	SubmissionStorage SubmissionStorage
	Dispatcher        DispatcherVariant
}

// Load reads every environment variable named in spec.md §6, validates the
// enum-valued options, and returns a ready-to-use Config. It never exits
// the process itself -- a configuration error is fatal per spec.md §7, but
// turning it into an os.Exit is main's job, matching the teacher's pattern
// of pushing fatal-or-not decisions to cmd/*/main.go.
func Load() (*Config, error) {
	ko := koanf.New(".")

	if err := ko.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{ko: ko}

	storage := SubmissionStorage(strings.ToLower(ko.String("submission_storage")))
	switch storage {
	case StorageCassandra, StoragePostgres:
		cfg.SubmissionStorage = storage
	default:
		return nil, fmt.Errorf("unknown SUBMISSION_STORAGE %q: must be %q or %q", ko.String("submission_storage"), StorageCassandra, StoragePostgres)
	}

	if ko.String("test_env") == "1" {
		cfg.Dispatcher = DispatcherProcesses
	} else {
		cfg.Dispatcher = DispatcherPods
	}

	if err := cfg.requireInt("survey_interval_minutes"); err != nil {
		return nil, err
	}
	if err := cfg.requireInt("mini_batch_number"); err != nil {
		return nil, err
	}
	if err := cfg.requireInt("retry_count"); err != nil {
		return nil, err
	}
	if err := cfg.requireInt("uptime_days_for_score"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) requireInt(key string) error {
	raw := c.ko.String(key)
	if raw == "" {
		return fmt.Errorf("missing required environment variable for %s", strings.ToUpper(key))
	}
	if _, err := strconv.Atoi(raw); err != nil {
		return fmt.Errorf("%s must be an integer, got %q", strings.ToUpper(key), raw)
	}
	return nil
}

// String returns a raw string value for key (dot.separated, lower-case).
func (c *Config) String(key string) string { return c.ko.String(key) }

// Int returns an integer value, or 0 if unset/invalid.
func (c *Config) Int(key string) int { return c.ko.Int(key) }

// Bool returns a boolean value read from a "1"/"true" style flag.
func (c *Config) Bool(key string) bool {
	v := strings.ToLower(c.ko.String(key))
	return v == "1" || v == "true" || v == "yes"
}

// SurveyInterval returns SURVEY_INTERVAL_MINUTES as a Duration.
func (c *Config) SurveyInterval() time.Duration {
	return time.Duration(c.Int("survey_interval_minutes")) * time.Minute
}

// MiniBatchNumber returns MINI_BATCH_NUMBER.
func (c *Config) MiniBatchNumber() int { return c.Int("mini_batch_number") }

// RetryCount returns RETRY_COUNT.
func (c *Config) RetryCount() int { return c.Int("retry_count") }

// UptimeDaysForScore returns UPTIME_DAYS_FOR_SCORE.
func (c *Config) UptimeDaysForScore() int { return c.Int("uptime_days_for_score") }

// AlarmLowerLimit returns ALARM_ZK_LOWER_LIMIT_SEC as a Duration.
func (c *Config) AlarmLowerLimit() time.Duration {
	return time.Duration(c.ko.Float64("alarm_zk_lower_limit_sec") * float64(time.Second))
}

// AlarmUpperLimit returns ALARM_ZK_UPPER_LIMIT_SEC as a Duration.
func (c *Config) AlarmUpperLimit() time.Duration {
	return time.Duration(c.ko.Float64("alarm_zk_upper_limit_sec") * float64(time.Second))
}

// ChainSelectorPercentageThreshold returns the submitter-coverage threshold
// used by ChainSelector.FilterBySubmitterPercentage (SPEC_FULL.md open
// question 1), defaulting to 0.5 when unset.
func (c *Config) ChainSelectorPercentageThreshold() float64 {
	if raw := c.ko.String("chain_selector_percentage_threshold"); raw != "" {
		return c.ko.Float64("chain_selector_percentage_threshold")
	}
	return 0.5
}

// IgnoreApplicationStatus reports IGNORE_APPLICATION_STATUS.
func (c *Config) IgnoreApplicationStatus() bool { return c.Bool("ignore_application_status") }

// WorkerImage returns WORKER_IMAGE.
func (c *Config) WorkerImage() string { return c.String("worker_image") }

// WorkerTag returns WORKER_TAG.
func (c *Config) WorkerTag() string { return c.String("worker_tag") }

// WebhookURL returns WEBHOOK_URL.
func (c *Config) WebhookURL() string { return c.String("webhook_url") }

// PostgresDSN assembles a libpq-style connection string from
// POSTGRES_{HOST,PORT,DB,USER,PASSWORD}.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=require",
		c.String("postgres_host"), c.String("postgres_port"), c.String("postgres_db"),
		c.String("postgres_user"), c.String("postgres_password"))
}

// PostgresROUser and PostgresROPassword back cmd/admin's create-ro-user task.
func (c *Config) PostgresROUser() string     { return c.String("postgres_ro_user") }
func (c *Config) PostgresROPassword() string { return c.String("postgres_ro_password") }

// CassandraHost, CassandraPort, CassandraUsername, CassandraPassword back
// internal/submissionstore.CassandraConfig.
func (c *Config) CassandraHost() string     { return c.String("cassandra_host") }
func (c *Config) CassandraPort() int        { return c.Int("cassandra_port") }
func (c *Config) CassandraUsername() string { return c.String("cassandra_username") }
func (c *Config) CassandraPassword() string { return c.String("cassandra_password") }

// AWSKeyspace is the Cassandra keyspace (AWS_KEYSPACE).
func (c *Config) AWSKeyspace() string { return c.String("aws_keyspace") }

// AWSAccessKeyID, AWSSecretAccessKey, AWSRoleARN, AWSRoleSessionName,
// AWSWebIdentityTokenFile back internal/submissionstore.SigV4Config.
func (c *Config) AWSAccessKeyID() string         { return c.String("aws_access_key_id") }
func (c *Config) AWSSecretAccessKey() string     { return c.String("aws_secret_access_key") }
func (c *Config) AWSRoleARN() string             { return c.String("aws_role_arn") }
func (c *Config) AWSRoleSessionName() string     { return c.String("aws_role_session_name") }
func (c *Config) AWSWebIdentityTokenFile() string { return c.String("aws_web_identity_token_file") }

// SSLCertfile is the CA bundle path for the Cassandra TLS connection
// (SSL_CERTFILE).
func (c *Config) SSLCertfile() string { return c.String("ssl_certfile") }

// KubernetesNamespace is the namespace PodDispatcher creates Jobs in,
// defaulting to "default" when unset.
func (c *Config) KubernetesNamespace() string {
	if ns := c.String("kubernetes_namespace"); ns != "" {
		return ns
	}
	return "default"
}

// WorkerBinaryPath is the local verifier binary path used by
// ProcessDispatcher (TEST_ENV=1 mode).
func (c *Config) WorkerBinaryPath() string { return c.String("worker_binary_path") }

// ContactListURL is the published CSV internal/appstatus.Updater reconciles
// against application_status.
func (c *Config) ContactListURL() string { return c.String("contact_list_url") }

// CheckpointPath is the local BoltDB file internal/batchstate.CheckpointStore
// opens in process-dispatcher (TEST_ENV=1) mode.
func (c *Config) CheckpointPath() string {
	if p := c.String("checkpoint_path"); p != "" {
		return p
	}
	return "coordinator_checkpoint.db"
}

// MetricsAddress and HealthAddress are the listen addresses for the
// Prometheus and health-check HTTP servers, mirroring the teacher's
// metrics.address/health.address config keys.
func (c *Config) MetricsAddress() string {
	if a := c.String("metrics_address"); a != "" {
		return a
	}
	return ":9090"
}

func (c *Config) HealthAddress() string {
	if a := c.String("health_address"); a != "" {
		return a
	}
	return ":8080"
}
