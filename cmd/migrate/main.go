package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"mssecurity.org/internal/config"
	"mssecurity.org/internal/migrate"
	"mssecurity.org/internal/obs"
)

func main() {
	log := obs.Logger()
	var (
		configPath = pflag.String("config", os.Getenv("CONSOLE_CONFIG"), "Path to the console YAML config")
		dsn        = pflag.String("dsn", "", "PostgreSQL DSN (overrides config and CONSOLE_PG_DSN)")
		dir        = pflag.String("migrations", "", "Directory of SQL migrations (defaults to the bundled set)")
		timeout    = pflag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [flags] up|down|status")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.LogLevel)
	if *dsn == "" {
		*dsn = cfg.Postgres
	}
	if *dsn == "" {
		log.Fatal("missing DSN: provide via --dsn, postgres_dsn or CONSOLE_PG_DSN")
	}
	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer db.Close()

	files := migrate.Bundled()
	if *dir != "" {
		files = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(db, files)

	cmd := pflag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			log.WithField("migration", name).Info("applied")
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			log.Info("nothing to roll back")
			err = nil
		} else if err == nil {
			log.WithField("migration", name).Info("rolled back")
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.WithError(err).Fatalf("migrate %s", cmd)
	}
}
