package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/gidakurdu/internal/config"
	"github.com/TobiSchelling/gidakurdu/internal/database"
	"github.com/TobiSchelling/gidakurdu/internal/feed"
	"github.com/TobiSchelling/gidakurdu/internal/logging"
	"github.com/TobiSchelling/gidakurdu/internal/notify"
	"github.com/TobiSchelling/gidakurdu/internal/pipeline"
	"github.com/TobiSchelling/gidakurdu/internal/prefs"
	"github.com/TobiSchelling/gidakurdu/internal/scheduler"
	"github.com/TobiSchelling/gidakurdu/internal/watermark"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	bold   = color.New(color.Bold)
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "gidakurdu",
	Short:   "Food recall alerts",
	Long:    "gidakurdu follows the Ministry of Agriculture's unsafe-food disclosures and alerts on new recalls.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(favoritesCmd)
	rootCmd.AddCommand(notifyTestCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("gidakurdu", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/gidakurdu/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to choose the alerter and background budget.")
		return nil
	},
}

// --- status command ---

var statusRemote bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored state and sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		wm, err := a.tracker.Load(ctx)
		if err != nil {
			return err
		}
		p, err := a.prefs.Get(ctx)
		if err != nil {
			return err
		}
		perm, err := a.perms.Status(ctx)
		if err != nil {
			return err
		}
		unread, err := a.dispatcher.UnreadCount(ctx)
		if err != nil {
			return err
		}

		bold.Println("Sync:")
		if wm.IsZero() {
			fmt.Println("  Watermark: never synced")
		} else {
			fmt.Printf("  Watermark: %s (%s)\n", wm.Local().Format("02.01.2006 15:04"), humanize.Time(wm))
		}
		fmt.Printf("  Refresh interval: %s\n", p.RefreshInterval.Label())

		bold.Println("\nNotifications:")
		fmt.Printf("  Enabled: %t\n", p.NotificationsEnabled)
		fmt.Printf("  Permission: %s\n", perm)
		fmt.Printf("  Unread: %d\n", unread)

		keys, err := a.db.Keys(ctx)
		if err != nil {
			return err
		}
		bold.Println("\nStorage:")
		fmt.Printf("  Database: %s\n", a.db.Path())
		for _, k := range keys {
			updated := k.UpdatedAt
			if t, err := time.Parse(time.RFC3339Nano, k.UpdatedAt); err == nil {
				updated = humanize.Time(t)
			}
			fmt.Printf("  %-24s %8s  %s\n", k.Key, humanize.Bytes(uint64(k.Size)), updated)
		}

		if statusRemote {
			page, err := a.feed.FetchPage(ctx, 0, 1)
			if err != nil {
				return fmt.Errorf("querying feed: %w", err)
			}
			bold.Println("\nFeed:")
			fmt.Printf("  Records upstream: %s\n", humanize.Comma(int64(page.RecordsTotal)))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusRemote, "remote", false, "Also query the feed for its record count")
}

// --- sync command ---

var dryRun bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the feed, alert on new recalls and advance the watermark",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		var out *pipeline.Outcome
		if dryRun {
			out, err = a.orch.DryRun(ctx)
		} else {
			out, err = a.orch.TriggerManualRefresh(ctx)
		}
		if out != nil {
			printSteps(out.Steps)
		}
		if err != nil {
			var runErr *pipeline.RunError
			if errors.As(err, &runErr) {
				red.Printf("\nSync failed: %s\n", runErr.Message)
			}
			return err
		}

		if !dryRun {
			green.Printf("\nSync complete: %d records, %d new.\n", out.Visible, out.New)
			fmt.Println("Run 'gidakurdu records' to list them.")
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
}

func printSteps(steps []pipeline.StepResult) {
	for i, step := range steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(steps), step.Name)
		if step.Err != nil {
			red.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

// app wires every component for one command invocation.
type app struct {
	db         *database.DB
	logger     *slog.Logger
	feed       *feed.Client
	prefs      *prefs.Store
	perms      *notify.PermissionStore
	alerter    notify.Alerter
	dispatcher *notify.Dispatcher
	tracker    *watermark.Tracker
	sched      *scheduler.Scheduler
	orch       *pipeline.Orchestrator
}

func openApp() (*app, error) {
	level := cfg.Logging.Level
	if verbose {
		level = "DEBUG"
	}
	logger := logging.New(level, cfg.Logging.File)

	db, err := openDB()
	if err != nil {
		return nil, err
	}

	def, err := notify.ParsePermission(cfg.Notifications.DefaultPermission)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("notifications.default_permission: %w", err)
	}

	var alerter notify.Alerter
	switch cfg.Notifications.Alerter {
	case "webhook":
		alerter = notify.NewWebhookAlerter(cfg.Notifications.WebhookURL)
	default:
		alerter = notify.NewLogAlerter(logger.With("component", "alerts"))
	}

	a := &app{
		db:      db,
		logger:  logger,
		feed:    feed.NewClient(cfg.Feed.URL, cfg.FeedTimeout(), logger.With("component", "feed")),
		prefs:   prefs.NewStore(db, logger.With("component", "prefs")),
		perms:   notify.NewPermissionStore(db, def),
		alerter: alerter,
		tracker: watermark.NewTracker(db),
		sched:   scheduler.New(cfg.BackgroundBudget(), logger.With("component", "scheduler")),
	}
	a.dispatcher = notify.NewDispatcher(db, alerter, a.perms, logger.With("component", "notify"))

	a.orch, err = pipeline.New(pipeline.Deps{
		Feed:      a.feed,
		Prefs:     a.prefs,
		Notifier:  a.dispatcher,
		Watermark: a.tracker,
		Scheduler: a.sched,
		Logger:    logger.With("component", "pipeline"),
	}, pipeline.Options{
		PageSize: cfg.Feed.PageSize,
		TaskID:   cfg.Background.TaskID,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// startBackground registers the background task, schedules the first run and
// starts the scheduler loop. The returned function stops it.
func (a *app) startBackground(ctx context.Context) (func(), error) {
	if err := a.sched.Register(cfg.Background.TaskID, a.orch.HandleBackgroundTask); err != nil {
		return nil, err
	}
	next, err := a.orch.ScheduleBackground(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Info("background sync scheduled", "at", next)
	a.sched.Start(ctx)
	return a.sched.Stop, nil
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "gidakurdu.db")
	return database.Open(dbPath)
}
