package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/config"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/database"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// migrator 由 MigrationManager 实现
type migrator interface {
	Up() error
	Down() error
	Goto(version uint) error
	Force(version int) error
	Version() (uint, bool, error)
}

var actions = map[string]bool{"up": true, "down": true, "version": true, "status": true, "goto": true, "force": true}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	action := flags.String("action", "up", "Migration action: up, down, version, status, goto, force")
	version := flags.Int("version", -1, "Target version for goto and force")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if err := checkArgs(*action, *version); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	log := logrus.New()
	log.SetOutput(stderr)

	cfg, err := config.LoadAppConfig()
	if err != nil {
		log.WithError(err).Error("Failed to load config")
		return 1
	}
	if cfg.Store.Driver != "postgres" {
		log.WithField("driver", cfg.Store.Driver).Warn("Migrations only apply to postgres, sqlite tables are created on open")
	}

	db, err := sql.Open("postgres", cfg.SQL.URL)
	if err != nil {
		log.WithError(err).Error("Failed to open database")
		return 1
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.WithError(err).Error("Failed to reach database")
		return 1
	}

	manager, err := database.NewMigrationManager(db, log)
	if err != nil {
		log.WithError(err).Error("Failed to create migration manager")
		return 1
	}
	defer manager.Close()

	latest, err := database.LatestVersion()
	if err != nil {
		log.WithError(err).Error("Failed to read embedded migrations")
		return 1
	}
	if err := apply(manager, *action, *version, latest, stdout); err != nil {
		log.WithError(err).WithField("action", *action).Error("Migration failed")
		return 1
	}
	return 0
}

func checkArgs(action string, version int) error {
	if !actions[action] {
		return fmt.Errorf("unknown action %q (available: up, down, version, status, goto, force)", action)
	}
	if action == "goto" && version <= 0 {
		return fmt.Errorf("--version must be a positive number for goto")
	}
	if action == "force" && version < 0 {
		return fmt.Errorf("--version is required for force")
	}
	return nil
}

// apply 执行一个动作并把结果写到 out
func apply(m migrator, action string, version int, latest uint, out io.Writer) error {
	switch action {
	case "up":
		if err := m.Up(); err != nil {
			return err
		}
	case "down":
		if err := m.Down(); err != nil {
			return err
		}
	case "goto":
		if err := m.Goto(uint(version)); err != nil {
			return err
		}
	case "force":
		if err := m.Force(version); err != nil {
			return err
		}
	}

	current, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	state := ""
	if dirty {
		state = " (dirty, fix the failed migration then run --action force)"
	}
	fmt.Fprintf(out, "Schema version: %d of %d%s\n", current, latest, state)
	if action == "status" {
		if current < latest {
			fmt.Fprintln(out, "Pending migrations available")
		} else {
			fmt.Fprintln(out, "All migrations applied")
		}
	}
	return nil
}
