// Command svn-buddy-updater keeps the svn-buddy release catalog in sync:
// stable releases mirrored from upstream, weekly snapshots built from
// source, expired snapshots swept from the bucket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/console-helpers/svn-buddy-updater/internal/builder"
	"github.com/console-helpers/svn-buddy-updater/internal/config"
	"github.com/console-helpers/svn-buddy-updater/internal/database"
	"github.com/console-helpers/svn-buddy-updater/internal/gitsync"
	"github.com/console-helpers/svn-buddy-updater/internal/logging"
	"github.com/console-helpers/svn-buddy-updater/internal/pool"
	"github.com/console-helpers/svn-buddy-updater/internal/progress"
	"github.com/console-helpers/svn-buddy-updater/internal/release"
	"github.com/console-helpers/svn-buddy-updater/internal/s3"
	"github.com/console-helpers/svn-buddy-updater/internal/server"
	"github.com/console-helpers/svn-buddy-updater/internal/service"
	"github.com/console-helpers/svn-buddy-updater/internal/upstream"
)

type logLevel enumflag.Flag

const (
	levelUnset logLevel = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
)

var logLevelIDs = map[logLevel][]string{
	levelUnset: {"default"}, // take the level from the config file
	levelDebug: {"debug"},
	levelInfo:  {"info"},
	levelWarn:  {"warn", "warning"},
	levelError: {"error"},
}

var (
	configPath string
	level      logLevel
)

func main() {
	root := &cobra.Command{
		Use:           "svn-buddy-updater",
		Short:         "Release synchronization for svn-buddy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
	root.PersistentFlags().Var(
		enumflag.New(&level, "log-level", logLevelIDs, enumflag.EnumCaseInsensitive),
		"log-level", "log level: debug, info, warn or error")

	root.AddCommand(runCmd(), syncCmd(), releasesCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduled sync flows and the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			db, err := initDB(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer db.CloseDB()

			svc, err := newService(ctx, cfg, log, db)
			if err != nil {
				return err
			}

			p := pool.New(2)
			svc.Register(p, time.Duration(cfg.Schedule.Stable), time.Duration(cfg.Schedule.Snapshot))

			if addr == "" && cfg.Server != nil {
				addr = cfg.Server.Addr
			}
			if addr == "" {
				log.Infof("No server address configured, running sync flows only.")
				<-ctx.Done()
				return nil
			}

			return server.New().
				WithService(svc).
				WithPool(p).
				WithLogger(log.WithComponent("server")).
				Init().
				Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "sync {stable|snapshot}",
		Short:     "Run one sync flow once and exit",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"stable", "snapshot"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			db, err := initDB(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer db.CloseDB()

			svc, err := newService(ctx, cfg, log, db)
			if err != nil {
				return err
			}

			switch args[0] {
			case "stable":
				bar := progress.New(true, "Cataloging stable releases")
				defer bar.Finish()
				return svc.WithProgress(bar).SyncStable(ctx)
			default:
				return svc.SyncSnapshot(ctx)
			}
		},
	}
	return cmd
}

func releasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "releases",
		Short: "List the cataloged releases, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, log, err := setup()
			if err != nil {
				return err
			}

			db, err := initDB(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer db.CloseDB()

			releases, err := db.ListReleases(ctx)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Version", "Release Date", "Stability", "Artifacts")
			for _, r := range releases {
				artifacts := "-"
				if r.PharURL != "" {
					artifacts = release.PharFileName
					if r.SignatureURL != "" {
						artifacts += ", " + release.SignatureFileName
					}
				}
				if err := table.Append([]string{
					r.VersionName,
					r.ReleaseDate.Format("2006-01-02"),
					string(r.Stability),
					artifacts,
				}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending catalog schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			db, err := initDB(cmd.Context(), cfg, log, true)
			if err != nil {
				return err
			}
			db.CloseDB()

			log.Infof("Catalog schema is up to date.")
			return nil
		},
	}
}

func setup() (*config.Root, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if level != levelUnset {
		cfg.Logging.Level = logLevelIDs[level][0]
	}

	return cfg, logging.NewLogger(cfg.Logging), nil
}

func initDB(ctx context.Context, cfg *config.Root, log *logging.Logger, migrate bool) (*database.Database, error) {
	db := database.New().
		WithConfig(cfg.Database).
		WithLogger(log.WithComponent("database"))
	if err := db.InitDB(ctx); err != nil {
		return nil, err
	}
	if migrate {
		if err := db.Migrate(ctx); err != nil {
			db.CloseDB()
			return nil, err
		}
	}
	return db, nil
}

func newService(ctx context.Context, cfg *config.Root, log *logging.Logger, db *database.Database) (*service.Service, error) {
	source, err := upstream.New(cfg.Upstream, log.WithComponent("upstream"))
	if err != nil {
		return nil, err
	}

	storage, err := s3.New(ctx, cfg.Storage, log.WithComponent("s3"))
	if err != nil {
		return nil, err
	}

	return service.New(db).
		WithUpstream(source).
		WithSourceControl(gitsync.New(cfg.Git, log.WithComponent("gitsync"))).
		WithBuilder(builder.New(cfg.Build, log.WithComponent("builder"))).
		WithStorage(storage).
		WithRetentionWindow(time.Duration(cfg.Retention.Window)).
		WithSnapshotsDir(cfg.SnapshotsDir).
		WithLogger(log.WithComponent("service")), nil
}
