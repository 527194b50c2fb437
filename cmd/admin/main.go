// admin runs one-off database maintenance tasks: create-database,
// init-database, create-ro-user, drop-database. Ported from
// original_source/tasks.py's invoke @task functions into stdlib flag
// subcommands, matching the teacher's preference for a thin cmd/ entry
// point over a third-party CLI framework.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	coordlog "github.com/mina-uptime/coordinator/internal/log"
	"github.com/mina-uptime/coordinator/internal/resultdb"
	"github.com/mina-uptime/coordinator/pkg/config"
)

// postgresDuplicateDatabase is the SQLSTATE Postgres returns from a CREATE
// DATABASE that names a database that already exists.
const postgresDuplicateDatabase = "42P04"

var datetimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}.\d{2}:\d{2}:\d{2}`)

func main() {
	logger := coordlog.New()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx := context.Background()
	cmd := os.Args[1]
	args := os.Args[2:]

	var runErr error
	switch cmd {
	case "create-database":
		runErr = createDatabase(ctx, cfg)
	case "init-database":
		runErr = initDatabase(ctx, cfg, args)
	case "create-ro-user":
		runErr = createROUser(ctx, cfg)
	case "drop-database":
		runErr = dropDatabase(ctx, cfg)
	default:
		usage()
		os.Exit(2)
	}

	if runErr != nil {
		logger.Fatal().Err(runErr).Str("command", cmd).Msg("admin command failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: admin <create-database|init-database|create-ro-user|drop-database> [flags]")
}

// createDatabase connects to the "postgres" maintenance database to create
// POSTGRES_DB if it doesn't already exist, then runs the embedded schema
// against it (tasks.py's create_database).
func createDatabase(ctx context.Context, cfg *config.Config) error {
	adminConn, err := pgx.Connect(ctx, maintenanceDSN(cfg))
	if err != nil {
		return fmt.Errorf("connect to maintenance database: %w", err)
	}
	defer adminConn.Close(ctx)

	dbName := cfg.String("postgres_db")
	_, err = adminConn.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{dbName}.Sanitize()))
	if err != nil {
		if isDuplicateDatabase(err) {
			fmt.Printf("database %q already exists, not creating\n", dbName)
		} else {
			return fmt.Errorf("create database: %w", err)
		}
	} else {
		fmt.Printf("database %q created successfully\n", dbName)
	}

	conn, err := pgx.Connect(ctx, cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("connect to %s: %w", dbName, err)
	}
	defer conn.Close(ctx)

	schema, err := resultdb.CreateTablesSQL()
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("run create_tables.sql: %w", err)
	}
	fmt.Println("create_tables.sql completed successfully")
	return nil
}

// initDatabase seeds a single bot_logs row marking where the coordinator
// should resume from, mirroring tasks.py's init_database: --mins-ago and
// --at are alternative ways to pick batch_end_epoch (--mins-ago wins when
// both are given; see resolveBatchEndEpoch), and the insert
// is skipped unless bot_logs is empty or --override-empty is passed.
func initDatabase(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("init-database", flag.ExitOnError)
	minsAgo := fs.Int("mins-ago", 0, "seed batch_end_epoch this many minutes before now")
	at := fs.String("at", "", "seed batch_end_epoch from a unix timestamp or 'YYYY-MM-DD HH:MM:SS' datetime string")
	overrideEmpty := fs.Bool("override-empty", false, "insert even if bot_logs is not empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	batchEndEpoch, err := resolveBatchEndEpoch(*minsAgo, *at)
	if err != nil {
		return err
	}

	conn, err := pgx.Connect(ctx, cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close(ctx)

	shouldInsert := true
	if !*overrideEmpty {
		var count int
		if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM bot_logs").Scan(&count); err != nil {
			return fmt.Errorf("count bot_logs: %w", err)
		}
		shouldInsert = count == 0
	}

	if !shouldInsert {
		fmt.Println("table bot_logs is not empty, row not inserted (pass --override-empty to force)")
		return nil
	}

	fileTimestamps := time.Unix(int64(batchEndEpoch), 0).UTC()
	_, err = conn.Exec(ctx, `
		INSERT INTO bot_logs (processing_time, files_processed, file_timestamps, batch_start_epoch, batch_end_epoch)
		VALUES ($1, $2, $3, $4, $5)
	`, 0, -1, fileTimestamps, batchEndEpoch, batchEndEpoch)
	if err != nil {
		return fmt.Errorf("insert bot_logs seed row: %w", err)
	}

	fmt.Printf("row inserted into bot_logs, batch_end_epoch: %v\n", batchEndEpoch)
	return nil
}

// resolveBatchEndEpoch mirrors tasks.py's branching: --mins-ago takes
// priority, then --at (parsed as either a datetime string or a raw unix
// timestamp), defaulting to now when neither is given.
func resolveBatchEndEpoch(minsAgo int, at string) (float64, error) {
	if minsAgo != 0 {
		return float64(time.Now().UTC().Add(-time.Duration(minsAgo) * time.Minute).Unix()), nil
	}
	if at == "" {
		return float64(time.Now().UTC().Unix()), nil
	}
	if datetimePattern.MatchString(at) {
		t, err := time.Parse("2006-01-02 15:04:05", at[:19])
		if err != nil {
			return 0, fmt.Errorf("parse --at datetime %q: %w", at, err)
		}
		return float64(t.UTC().Unix()), nil
	}
	epoch, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--at must be a unix timestamp or 'YYYY-MM-DD HH:MM:SS' datetime: %w", err)
	}
	return float64(epoch), nil
}

// createROUser grants POSTGRES_RO_USER read-only access, matching tasks.py's
// create_ro_user (CONNECT + USAGE + SELECT on all tables, plus default
// privileges for tables created afterward).
func createROUser(ctx context.Context, cfg *config.Config) error {
	conn, err := pgx.Connect(ctx, cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close(ctx)

	roUser := cfg.PostgresROUser()
	dbName := cfg.String("postgres_db")

	var exists bool
	err = conn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_roles WHERE rolname=$1)", roUser).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check existing role: %w", err)
	}
	if exists {
		fmt.Printf("user %q already exists\n", roUser)
		return nil
	}

	userIdent := pgx.Identifier{roUser}.Sanitize()
	dbIdent := pgx.Identifier{dbName}.Sanitize()

	statements := []string{
		fmt.Sprintf("CREATE USER %s WITH PASSWORD %s", userIdent, quoteLiteral(cfg.PostgresROPassword())),
		fmt.Sprintf("GRANT CONNECT ON DATABASE %s TO %s", dbIdent, userIdent),
		fmt.Sprintf("GRANT USAGE ON SCHEMA public TO %s", userIdent),
		fmt.Sprintf("GRANT SELECT ON ALL TABLES IN SCHEMA public TO %s", userIdent),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT SELECT ON TABLES TO %s", userIdent),
	}
	for _, stmt := range statements {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}

	fmt.Printf("user %q created\n", roUser)
	return nil
}

// dropDatabase drops POSTGRES_DB, connecting to the "postgres" maintenance
// database first since Postgres refuses to drop the database a session is
// connected to (tasks.py's drop_database).
func dropDatabase(ctx context.Context, cfg *config.Config) error {
	adminConn, err := pgx.Connect(ctx, maintenanceDSN(cfg))
	if err != nil {
		return fmt.Errorf("connect to maintenance database: %w", err)
	}
	defer adminConn.Close(ctx)

	dbName := cfg.String("postgres_db")
	_, err = adminConn.Exec(ctx, fmt.Sprintf("DROP DATABASE %s", pgx.Identifier{dbName}.Sanitize()))
	if err != nil {
		fmt.Printf("error dropping database %q: %v\n", dbName, err)
		return nil
	}
	fmt.Printf("database %q dropped\n", dbName)
	return nil
}

func maintenanceDSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%s dbname=postgres user=%s password=%s sslmode=require",
		cfg.String("postgres_host"), cfg.String("postgres_port"),
		cfg.String("postgres_user"), cfg.String("postgres_password"))
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func isDuplicateDatabase(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == postgresDuplicateDatabase
}
