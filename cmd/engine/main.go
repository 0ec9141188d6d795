package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cuemby/ldengine/pkg/aggregator"
	"github.com/cuemby/ldengine/pkg/assignment"
	"github.com/cuemby/ldengine/pkg/config"
	"github.com/cuemby/ldengine/pkg/downloadrequest"
	"github.com/cuemby/ldengine/pkg/events"
	"github.com/cuemby/ldengine/pkg/health"
	"github.com/cuemby/ldengine/pkg/ledger"
	"github.com/cuemby/ldengine/pkg/log"
	"github.com/cuemby/ldengine/pkg/registry"
	"github.com/cuemby/ldengine/pkg/resolver"
	"github.com/cuemby/ldengine/pkg/scheduler"
	"github.com/cuemby/ldengine/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "engine",
	Short:   "Lead and deposit attribution engine",
	Long:    `engine tracks customer-lead reservations, assigns available records to staff, and attributes deposits to first-depositor (NDP) status across products.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("engine version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "/var/lib/engine", "Data directory for the embedded store")
	rootCmd.PersistentFlags().String("config", "", "Path to config.yaml (default: <data-dir>/config.yaml)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(backupCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// engine bundles every wired domain component for one process lifetime.
type engine struct {
	store       storage.Store
	configStore *config.Store
	broker      *events.Broker
	registry    *registry.Registry
	resolver    *resolver.Resolver
	assigner    *assignment.Engine
	workflow    *downloadrequest.Workflow
	ledger      *ledger.Ledger
	aggregator  *aggregator.Aggregator
	checker     *health.Checker
	scheduler   *scheduler.Scheduler
}

func bootstrap(dataDir, configPath string) (*engine, error) {
	if configPath == "" {
		configPath = filepath.Join(dataDir, "config.yaml")
	}

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	configStore, err := config.NewStore(configPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	res := resolver.New(store, broker)
	reg, err := registry.New(store, res, broker)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}
	assigner := assignment.New(store, broker)
	workflow := downloadrequest.New(store, assigner, broker)
	l := ledger.New(store, broker)
	agg := aggregator.New(l)
	checker := health.New(store, res, nil)
	sched := scheduler.New(reg, agg, checker)

	return &engine{
		store:       store,
		configStore: configStore,
		broker:      broker,
		registry:    reg,
		resolver:    res,
		assigner:    assigner,
		workflow:    workflow,
		ledger:      l,
		aggregator:  agg,
		checker:     checker,
		scheduler:   sched,
	}, nil
}

func (e *engine) close() {
	e.scheduler.Stop()
	e.broker.Stop()
	e.store.Close()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine's scheduler loop until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		configPath, _ := cmd.Flags().GetString("config")

		e, err := bootstrap(dataDir, configPath)
		if err != nil {
			return err
		}
		defer e.close()

		cfg := e.configStore.Current()
		e.scheduler.Update(&cfg.Scheduler, cfg.Grace.DefaultGraceDays)
		e.configStore.OnReload(func(cfg *config.Config) {
			e.scheduler.Update(&cfg.Scheduler, cfg.Grace.DefaultGraceDays)
		})

		watcher, err := config.NewWatcher(e.configStore)
		if err != nil {
			return fmt.Errorf("failed to start config watcher: %w", err)
		}
		watcher.Start()
		defer watcher.Stop()

		log.WithComponent("engine").Info().Str("data_dir", dataDir).Msg("engine started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.WithComponent("engine").Info().Msg("shutting down")
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Run one Health & Repair sweep and print a summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		configPath, _ := cmd.Flags().GetString("config")

		e, err := bootstrap(dataDir, configPath)
		if err != nil {
			return err
		}
		defer e.close()

		summary, err := e.checker.Repair()
		if err != nil {
			return err
		}
		fmt.Printf("findings: %d, changed: %d\n", len(summary.Findings), summary.Changed)
		for _, f := range summary.Findings {
			fmt.Printf("  [%s] %s %s\n", f.Kind, f.RecordID, f.Detail)
		}
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report [date]",
	Short: "Force-generate the daily report for a date (YYYY-MM-DD)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		configPath, _ := cmd.Flags().GetString("config")
		product, _ := cmd.Flags().GetString("product")

		e, err := bootstrap(dataDir, configPath)
		if err != nil {
			return err
		}
		defer e.close()

		report, err := e.aggregator.Generate(args[0], product)
		if err != nil {
			return err
		}
		fmt.Printf("report for %s\n", report.Date)
		for _, s := range report.StaffBreakdown {
			fmt.Printf("  staff=%s forms=%d ndp=%d rdp=%d nominal=%d\n", s.StaffID, s.TotalForms, s.NDP, s.RDP, s.NominalTotal)
		}
		for _, p := range report.ProductBreakdown {
			fmt.Printf("  product=%s forms=%d ndp=%d rdp=%d nominal=%d\n", p.ProductID, p.TotalForms, p.NDP, p.RDP, p.NominalTotal)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().String("product", "", "Restrict the report to one product_id")
}

var backupCmd = &cobra.Command{
	Use:   "backup [destination]",
	Short: "Copy the embedded store's database file to destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		src := filepath.Join(dataDir, "engine.db")
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("failed to read database: %w", err)
		}
		if err := os.WriteFile(args[0], data, 0600); err != nil {
			return fmt.Errorf("failed to write backup: %w", err)
		}
		fmt.Printf("backed up %s to %s\n", src, args[0])
		return nil
	},
}
