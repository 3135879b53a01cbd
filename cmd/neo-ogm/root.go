package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Financial-Times/go-logger/v2"
	"github.com/Financial-Times/neo-ogm-go/neoogm"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	settingsFile string
	url          string
	flavour      string
	database     string
	logLevel     string
	timeout      time.Duration
}

// app is what every subcommand gets once the persistent flags have been resolved.
type app struct {
	flags    globalFlags
	settings *neoogm.Settings
	log      *logger.UPPLogger

	// connect is replaced in tests
	connect func(ctx context.Context, a *app) (*neoogm.Connection, error)
}

func newRootCmd() *cobra.Command {
	return rootCmdFor(&app{connect: dial})
}

func rootCmdFor(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "neo-ogm",
		Short: "Manage the constraints and indexes of a Neo4j or Memgraph database",
		Long: `neo-ogm installs, lists, snapshots and removes the constraints and indexes
declared by a schema file, against Neo4j 4.2+ or Memgraph.

Connection settings come from the settings file, then the environment
(NEO4J_BOLT_URL, DATABASE_FLAVOUR, NEO4J_DATABASE), then the flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.settingsFile, "settings", "s", "", "YAML settings file")
	pf.StringVar(&a.flags.url, "url", "", "database URL, e.g. bolt://localhost:7687")
	pf.StringVar(&a.flags.flavour, "flavour", "", "database flavour: neo4j or memgraph")
	pf.StringVar(&a.flags.database, "database", "", "database name")
	pf.StringVar(&a.flags.logLevel, "log-level", "INFO", "log level")
	pf.DurationVar(&a.flags.timeout, "timeout", 5*time.Minute, "overall timeout for the command")

	root.AddCommand(
		newListCmd(a),
		newInstallCmd(a),
		newRemoveCmd(a),
		newSnapshotCmd(a),
		newRestoreCmd(a),
		newResetCmd(a),
		newCheckCmd(a),
		newServerCmd(a),
	)
	return root
}

// load resolves the settings: file, then environment, then flags.
func (a *app) load() error {
	a.log = logger.NewUPPLogger("neo-ogm", a.flags.logLevel)

	settings, err := neoogm.LoadSettings(a.flags.settingsFile)
	if err != nil {
		return err
	}
	if a.flags.url != "" {
		settings.URL = a.flags.url
	}
	if a.flags.flavour != "" {
		settings.Flavour = a.flags.flavour
	}
	if a.flags.database != "" {
		settings.Database = a.flags.database
	}
	if settings.URL == "" {
		return fmt.Errorf("no database URL: set --url, %s or url in the settings file", neoogm.EnvBoltURL)
	}
	a.settings = settings
	return nil
}

func dial(ctx context.Context, a *app) (*neoogm.Connection, error) {
	conf, err := a.settings.ConnectionConfig()
	if err != nil {
		return nil, err
	}
	// one-shot commands need the database now
	conf.BackgroundConnect = false
	conf.BatchSize = 0

	return neoogm.Connect(ctx, a.settings.URL, conf, a.log)
}

// run connects, hands the connection to fn and closes it afterwards.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, conn *neoogm.Connection) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), a.flags.timeout)
	defer cancel()

	conn, err := a.connect(ctx, a)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", a.settings.URL, err)
	}
	defer func() {
		if err := conn.Close(context.Background()); err != nil {
			a.log.WithError(err).Warnf("failed to close connection to %s", a.settings.URL)
		}
	}()

	return fn(ctx, conn)
}
