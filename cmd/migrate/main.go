// Command migrate manages the vigil-gate schema: the api_keys table the
// auth store reads and the audit_records table the Postgres audit sink
// writes into.
//
// Usage:
//
//	migrate [flags] up [n]      apply all (or the next n) migrations
//	migrate [flags] down [n]    roll back all (or the last n) migrations
//	migrate [flags] version     print the current schema version
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	dbURL := flag.String("db-url", "", "Postgres URL (default: DATABASE_URL, then DB_* variables)")
	source := flag.String("source", "migrations", "directory holding the migration files")
	flag.Parse()

	if err := run(*dbURL, *source, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(dbURL, source string, args []string) error {
	if len(args) == 0 {
		return errors.New("missing command: up, down or version")
	}
	cmd := args[0]
	switch cmd {
	case "up", "down", "version":
	default:
		return fmt.Errorf("unknown command %q: use up, down or version", cmd)
	}

	steps := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("step count %q: want a positive integer", args[1])
		}
		steps = n
	}

	m, err := migrate.New("file://"+source, resolveDSN(dbURL))
	if err != nil {
		return fmt.Errorf("open migrator: %w", err)
	}
	defer m.Close()

	switch cmd {
	case "up":
		err = apply(m, steps, false)
	case "down":
		err = apply(m, steps, true)
	case "version":
		return printVersion(m)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("schema already up to date")
		return nil
	}
	if err != nil {
		return err
	}
	return printVersion(m)
}

func apply(m *migrate.Migrate, steps int, down bool) error {
	switch {
	case steps > 0 && down:
		return m.Steps(-steps)
	case steps > 0:
		return m.Steps(steps)
	case down:
		return m.Down()
	default:
		return m.Up()
	}
}

func printVersion(m *migrate.Migrate) error {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("schema version: none")
		return nil
	}
	if err != nil {
		return err
	}
	if dirty {
		fmt.Printf("schema version: %d (dirty, fix manually before migrating further)\n", v)
		return nil
	}
	fmt.Printf("schema version: %d\n", v)
	return nil
}

// resolveDSN picks the connection string in precedence order: the -db-url
// flag, DATABASE_URL, then the individual DB_* variables the gateway
// service config also understands.
func resolveDSN(flagURL string) string {
	if flagURL != "" {
		return flagURL
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		return env
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(envOr("DB_USER", "vigil"), envOr("DB_PASSWORD", "vigil-dev")),
		Host:     envOr("DB_HOST", "localhost") + ":" + envOr("DB_PORT", "5432"),
		Path:     "/" + envOr("DB_NAME", "vigil"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
