// Package cli implements the maintenance command line used for scheduled
// data-health checks and snapshot management.
package cli

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Emerchan23/sisvendas1-sub000/internal/config"
	"github.com/Emerchan23/sisvendas1-sub000/internal/database"
	"github.com/Emerchan23/sisvendas1-sub000/internal/event"
	"github.com/Emerchan23/sisvendas1-sub000/internal/service"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DBPath  string
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the sisvendas CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sisvendas",
		Short: "Settlement data maintenance for the sisvendas ERP",
		Long:  "Audits and repairs settlement consistency, and manages data snapshots.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "sqlite database path (default from config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewRepairCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// app bundles the opened database and wired services for one command run.
type app struct {
	cfg     config.Config
	db      *sql.DB
	engine  *service.Engine
	auditor *service.Auditor
	backup  *service.Backup
	log     *zap.Logger
}

// open loads config, applies flag overrides, opens and migrates the
// database, and wires the services. The returned closer flushes the logger
// and closes the database.
func (o *RootOptions) open() (*app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if o.DBPath != "" {
		cfg.Database.Path = o.DBPath
	}

	log := zap.NewNop()
	if o.Verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			return nil, nil, err
		}
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	engine := service.NewEngine(db, event.NewBus(), log)
	a := &app{
		cfg:     cfg,
		db:      db,
		engine:  engine,
		auditor: service.NewAuditor(db, engine, log),
		backup:  service.NewBackup(db, log),
		log:     log,
	}
	closer := func() {
		_ = log.Sync()
		_ = db.Close()
	}
	return a, closer, nil
}
