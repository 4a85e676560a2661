// migrate applies the panel's Postgres schema (verification records, sessions, audit log and runtime
// settings) from the SQL embedded in internal/db. Only needed when VERIFY_STORE or SESSION_STORE
// resolves to postgres.
package main

import (
	"flag"
	"fmt"
	"os"

	"webpanel-gate/internal/config"
	"webpanel-gate/internal/db/migrate"
	"webpanel-gate/internal/platform/logx"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [-direction up|down]\n\n"+
			"Creates or drops the webpanel-gate tables in DATABASE_URL.\n"+
			"down removes every verification record, session and audit entry.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logx.New(logx.Options{Service: cfg.ServiceName + "-migrate", Env: cfg.Env, Level: cfg.LogLevel})
	if cfg.DatabaseURL == "" {
		logger.Error("migrate: DATABASE_URL is not set; the panel schema only exists in postgres")
		os.Exit(1)
	}

	if err := migrate.Run(cfg.DatabaseURL, string(dir)); err != nil {
		logger.Error("migrate: failed", "direction", string(dir), "error", err)
		os.Exit(1)
	}
	logger.Info("migrate: panel schema is current", "direction", string(dir))
}
