package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/username/permit-finder/internal/config"
	"github.com/username/permit-finder/internal/recgov"
	"github.com/username/permit-finder/internal/report"
	"github.com/username/permit-finder/internal/scanner"
	"github.com/username/permit-finder/pkg/dateutil"
)

var (
	configPath string
	envFile    string
	logger     *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "permit-finder",
		Short: "Find open wilderness permits on recreation.gov",
		Long:  "Scan upcoming months of recreation.gov permit availability and list future days with enough remaining spots",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}

			// Load config to get log settings
			cfg, err := config.Load(configPath)
			if err == nil && cfg.Logging.File != "" {
				logger, err = initFileLogger(cfg.Logging)
				if err != nil {
					initLogger("info") // Fallback to console
				}
			} else if err == nil {
				initLogger(cfg.Logging.Level)
			} else {
				initLogger("info")
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: ./config.yaml, $HOME/.permit-finder, /etc/permit-finder)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from file (default: ./.env if present)")

	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(windowsCmd())
	rootCmd.AddCommand(parksCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func scanCmd() *cobra.Command {
	var (
		parks       []string
		months      int
		minSpots    int
		concurrency int
		timezone    string
		teeOutput   string
	)

	cmd := &cobra.Command{
		Use:          "scan",
		Short:        "Scan parks for days with enough remaining permits",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Flags override config
			if cmd.Flags().Changed("park") {
				cfg.Scan.Parks = parks
			}
			if cmd.Flags().Changed("months") {
				cfg.Scan.Months = months
			}
			if cmd.Flags().Changed("min-spots") {
				cfg.Scan.MinSpots = minSpots
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Scan.Concurrency = concurrency
			}
			if cmd.Flags().Changed("timezone") {
				cfg.Scan.Timezone = timezone
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid options: %w", err)
			}

			cat, err := cfg.Catalog.Build()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if teeOutput != "" {
				if err := os.MkdirAll(filepath.Dir(teeOutput), 0o755); err != nil {
					return fmt.Errorf("failed to create tee path: %w", err)
				}
				f, err := os.OpenFile(teeOutput, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
				if err != nil {
					return fmt.Errorf("failed to open tee-output file: %w", err)
				}
				defer f.Close()
				out = io.MultiWriter(out, f)
			}
			sink := report.NewWriterSink(out)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := logger
			if log == nil {
				log = zap.NewNop()
			}
			log.Debug("Catalog loaded", zap.Int("parks", cat.Len()))

			client := recgov.NewClient(cfg.RecGov.ClientOptions(), log)
			s := scanner.New(cat, client, sink, scanner.Options{
				Months:      cfg.Scan.Months,
				MinSpots:    cfg.Scan.MinSpots,
				Location:    cfg.Scan.GetLocation(),
				Concurrency: cfg.Scan.Concurrency,
				RunTimeout:  cfg.Scan.GetRunTimeout(),
			}, log)

			summary, err := s.Run(ctx, cfg.Scan.Parks)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			log.Info("Scan summary",
				zap.String("run_id", summary.RunID),
				zap.Int("windows_scanned", summary.WindowsScanned),
				zap.Int("windows_failed", summary.WindowsFailed),
				zap.Int("days_found", summary.DaysFound),
				zap.Duration("duration", summary.Duration.Round(time.Millisecond)))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&parks, "park", "p", nil, "Park to scan (repeatable)")
	cmd.Flags().IntVarP(&months, "months", "m", 3, "Number of calendar months to scan, starting with the current one")
	cmd.Flags().IntVar(&minSpots, "min-spots", 2, "Minimum remaining permits for a day to be reported")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Number of month windows fetched in parallel")
	cmd.Flags().StringVar(&timezone, "timezone", "America/Los_Angeles", "Timezone that decides what \"today\" is")
	cmd.Flags().StringVar(&teeOutput, "tee-output", "", "Mirror report output to file")

	return cmd
}

func windowsCmd() *cobra.Command {
	var months int

	cmd := &cobra.Command{
		Use:   "windows",
		Short: "Print the month windows a scan would query",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if !cmd.Flags().Changed("months") {
				months = cfg.Scan.Months
			}

			now := time.Now().In(cfg.Scan.GetLocation())
			for _, w := range dateutil.MonthWindows(now, months) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", w.StartString(), w.EndString())
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&months, "months", "m", 3, "Number of calendar months")

	return cmd
}

func parksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parks",
		Short: "List the parks and trails in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cat, err := cfg.Catalog.Build()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, name := range cat.Names() {
				park, _ := cat.Lookup(name)
				fmt.Fprintf(w, "%s (ID: %d)\n", park.Name, park.ID)
				trails := park.Trails()
				if len(trails) == 0 {
					fmt.Fprintln(w, "  (no trails)")
					continue
				}
				names := make([]string, 0, len(trails))
				for _, t := range trails {
					names = append(names, fmt.Sprintf("%s (ID: %d)", t.Name, t.ID))
				}
				fmt.Fprintf(w, "  %s\n", strings.Join(names, ", "))
			}
			return nil
		},
	}
}

func initLogger(level string) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err == nil {
		config.Level = zap.NewAtomicLevelAt(zapLevel)
	}

	var err error
	logger, err = config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
}

func initFileLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapLevel,
	)

	return zap.New(core).With(zap.String("service", "permit-finder")), nil
}
