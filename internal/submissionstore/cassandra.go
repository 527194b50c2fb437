package submissionstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"

	"github.com/mina-uptime/coordinator/internal/model"
)

// requestTimeout is the per-query Cassandra request timeout (spec.md §5).
const requestTimeout = 20 * time.Second

// CassandraStore is the primary SubmissionStore variant: AWS Keyspaces
// reached over the Cassandra CQL v4 wire protocol. Ported from
// original_source/.../aws_keyspaces_client.py's AWSKeyspacesClient.
type CassandraStore struct {
	session  *gocql.Session
	keyspace string
	logger   zerolog.Logger
	shard    ShardCalculator
}

// CassandraConfig configures the connection and authentication mode.
type CassandraConfig struct {
	Host     string
	Port     int
	Keyspace string

	// Plain auth, used when both are set.
	Username string
	Password string

	// SigV4 auth, used when Username/Password are empty.
	SigV4 *SigV4Config

	CACertFile string
}

// NewCassandraStore dials the cluster and returns a ready Store.
func NewCassandraStore(ctx context.Context, cfg CassandraConfig, logger zerolog.Logger) (*CassandraStore, error) {
	cluster := gocql.NewCluster(cfg.Host)
	cluster.Port = cfg.Port
	cluster.ProtoVersion = 4
	cluster.Timeout = requestTimeout
	cluster.RetryPolicy = &ExponentialBackoffRetryPolicy{}

	tlsConfig, err := buildTLSConfig(cfg.CACertFile)
	if err != nil {
		return nil, fmt.Errorf("build tls config: %w", err)
	}
	cluster.SslOpts = &gocql.SslOptions{
		Config:                 tlsConfig,
		EnableHostVerification: false,
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	} else {
		if cfg.SigV4 == nil {
			return nil, fmt.Errorf("cassandra auth: neither username/password nor sigv4 credentials provided")
		}
		sigV4 := *cfg.SigV4
		if sigV4.Region == "" {
			sigV4.Region = regionFromHost(cfg.Host)
		}
		authenticator, err := newSigV4Authenticator(ctx, sigV4)
		if err != nil {
			return nil, fmt.Errorf("sigv4 auth: %w", err)
		}
		cluster.Authenticator = authenticator
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("create cassandra session: %w", err)
	}

	return &CassandraStore{
		session:  session,
		keyspace: cfg.Keyspace,
		logger:   logger.With().Str("component", "cassandra_store").Logger(),
	}, nil
}

func buildTLSConfig(caCertFile string) (*tls.Config, error) {
	pool := x509.NewCertPool()
	pem, err := os.ReadFile(caCertFile)
	if err != nil {
		return nil, fmt.Errorf("read ca cert file: %w", err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates parsed from %s", caCertFile)
	}
	return &tls.Config{
		RootCAs:            pool,
		InsecureSkipVerify: false,
	}, nil
}

// Close shuts down the underlying session.
func (c *CassandraStore) Close() {
	c.session.Close()
}

// GetSubmissions implements Store per spec.md §4.3 steps 1-4.
func (c *CassandraStore) GetSubmissions(ctx context.Context, start, end time.Time, startInclusive, endInclusive bool) ([]model.Submission, error) {
	query, params := c.buildQuery(start, end, startInclusive, endInclusive)

	c.logger.Debug().Str("query", query).Msg("executing cassandra query")

	iter := c.session.Query(query, params...).WithContext(ctx).Iter()

	var submissions []model.Submission
	var row struct {
		SubmittedAtDate    time.Time
		SubmittedAt        time.Time
		Submitter          string
		CreatedAt          time.Time
		BlockHash          string
		RemoteAddr         string
		PeerID             string
		GraphQLControlPort string
		BuiltWithCommitSHA string
		StateHash          string
		Parent             string
		Height             int64
		Slot               int64
		ValidationError    string
		Verified           bool
	}

	for iter.Scan(
		&row.SubmittedAtDate, &row.SubmittedAt, &row.Submitter, &row.CreatedAt,
		&row.BlockHash, &row.RemoteAddr, &row.PeerID, &row.GraphQLControlPort,
		&row.BuiltWithCommitSHA, &row.StateHash, &row.Parent, &row.Height,
		&row.Slot, &row.ValidationError, &row.Verified,
	) {
		submissions = append(submissions, model.Submission{
			SubmittedAtDate:    row.SubmittedAtDate,
			SubmittedAt:        row.SubmittedAt,
			Submitter:          row.Submitter,
			CreatedAt:          row.CreatedAt,
			BlockHash:          row.BlockHash,
			StateHash:          row.StateHash,
			Parent:             row.Parent,
			Height:             row.Height,
			Slot:               row.Slot,
			RemoteAddr:         row.RemoteAddr,
			PeerID:             row.PeerID,
			GraphQLControlPort: row.GraphQLControlPort,
			BuiltWithCommitSHA: row.BuiltWithCommitSHA,
			ValidationError:    row.ValidationError,
			Verified:           row.Verified,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandra query failed: %w", err)
	}
	return submissions, nil
}

// buildQuery constructs the CQL query and bind parameters per spec.md
// §4.3 steps 1-4: date predicate, shard predicate, then the submitted_at
// bounds.
func (c *CassandraStore) buildQuery(start, end time.Time, startInclusive, endInclusive bool) (string, []any) {
	base := fmt.Sprintf(`SELECT submitted_at_date, submitted_at, submitter, created_at,
		block_hash, remote_addr, peer_id, graphql_control_port,
		built_with_commit_sha, state_hash, parent, height, slot,
		validation_error, verified FROM %s.submissions`, c.keyspace)

	var conditions []string
	var params []any

	dates := c.shard.SubmittedAtDates(start, end)
	if len(dates) == 1 {
		conditions = append(conditions, "submitted_at_date = ?")
		params = append(params, dates[0])
	} else {
		quoted := make([]string, len(dates))
		for i, d := range dates {
			quoted[i] = fmt.Sprintf("'%s'", d)
		}
		conditions = append(conditions, fmt.Sprintf("submitted_at_date IN (%s)", strings.Join(quoted, ",")))
	}

	conditions = append(conditions, c.shard.ShardInCondition(start, end))

	startOp := ">"
	if startInclusive {
		startOp = ">="
	}
	conditions = append(conditions, fmt.Sprintf("submitted_at %s ?", startOp))
	params = append(params, start)

	endOp := "<"
	if endInclusive {
		endOp = "<="
	}
	conditions = append(conditions, fmt.Sprintf("submitted_at %s ?", endOp))
	params = append(params, end)

	return base + " WHERE " + strings.Join(conditions, " AND "), params
}

// ExponentialBackoffRetryPolicy implements gocql.RetryPolicy per spec.md
// §4.3: exponential backoff with jitter, capped retries, host-level retry
// on unavailability. Ported from
// original_source/.../aws_keyspaces_client.py's ExponentialBackOffRetryPolicy.
type ExponentialBackoffRetryPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

func (p *ExponentialBackoffRetryPolicy) defaults() (time.Duration, time.Duration, int) {
	base, maxDelay, maxRetries := p.BaseDelay, p.MaxDelay, p.MaxRetries
	if base == 0 {
		base = 100 * time.Millisecond
	}
	if maxDelay == 0 {
		maxDelay = 10 * time.Second
	}
	if maxRetries == 0 {
		maxRetries = 10
	}
	return base, maxDelay, maxRetries
}

func (p *ExponentialBackoffRetryPolicy) backoff(retryNum int) time.Duration {
	base, maxDelay, _ := p.defaults()
	delay := base * time.Duration(1<<uint(retryNum))
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}

// Attempt reports whether the query's next attempt should proceed,
// sleeping for the computed backoff first. Implements gocql.RetryPolicy.
func (p *ExponentialBackoffRetryPolicy) Attempt(q gocql.RetryableQuery) bool {
	_, _, maxRetries := p.defaults()
	retryNum := q.Attempts() - 1
	if retryNum >= maxRetries {
		return false
	}
	time.Sleep(p.backoff(retryNum))
	return true
}

// GetRetryType classifies an error for gocql's retry dispatch: read/write
// timeouts retry against the same host, unavailability retries the next
// host, anything else is rethrown.
func (p *ExponentialBackoffRetryPolicy) GetRetryType(err error) gocql.RetryType {
	switch err.(type) {
	case *gocql.RequestErrReadTimeout, *gocql.RequestErrWriteTimeout:
		return gocql.Retry
	case *gocql.RequestErrUnavailable:
		return gocql.RetryNextHost
	default:
		return gocql.Rethrow
	}
}
