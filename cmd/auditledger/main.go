// Command auditledger inspects a durable audit trail mirror: it replays
// the SQL archive, verifies the hash chain, and reports activity
// summaries without needing the producing service to be running.
package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/attestia/grc-core/pkg/config"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "summary":
		return runSummaryCmd(args[2:], stdout, stderr)
	case "demo":
		return runDemoCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "auditledger - tamper-evident audit trail tooling")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  auditledger verify  [--config FILE] [--json] [--checkpoints]")
	_, _ = fmt.Fprintln(w, "  auditledger summary [--config FILE]")
	_, _ = fmt.Fprintln(w, "  auditledger demo")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Configuration is read from AUDIT_* environment variables,")
	_, _ = fmt.Fprintln(w, "optionally overlaid with a YAML file via --config.")
}

// loadConfig resolves configuration from the environment, overlaid with
// the YAML file at path when one is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load(), nil
	}
	return config.LoadFile(path)
}

// openArchive opens the configured mirror database. The caller closes
// the handle.
func openArchive(cfg *config.Config) (*sql.DB, error) {
	driver := cfg.DatabaseDriver
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open %s archive: %w", driver, err)
	}
	return db, nil
}
