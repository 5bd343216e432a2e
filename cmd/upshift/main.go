package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/upshift/internal/adapters/fs"
	"github.com/bft-labs/upshift/internal/adapters/metrics"
	"github.com/bft-labs/upshift/internal/api"
	"github.com/bft-labs/upshift/internal/cliconfig"
	logAdapter "github.com/bft-labs/upshift/pkg/log"
	"github.com/bft-labs/upshift/pkg/upshift"
	"github.com/bft-labs/upshift/plugins/definitionwatcher"
)

const longHelp = `Upshift discovers upgrade definitions, checks them against live telemetry
and rolls out the eligible ones with snapshots, health checks and rollback.

Highlights:
  - Definitions are TOML or YAML files; edits are picked up without a restart.
  - Immediate, phased, canary and progressive rollout strategies.
  - Execution history is kept in SQLite and summarized by "upshift report".
  - Configure via $HOME/.upshift/config.toml, UPSHIFT_* variables or flags.`

var exampleUsage = strings.TrimSpace(`
  upshift run --webhook-url http://deployer.internal --auth-key <key>
  upshift validate --definitions-dir ./upgrades
  upshift plan --home /var/lib/upshift
  upshift report --window 168h
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

type cli struct {
	cfg     cliconfig.Config
	cfgPath string
	log     zerolog.Logger
}

func main() {
	c := &cli{cfg: cliconfig.DefaultConfig(), log: cliconfig.Logger()}

	if err := newRootCommand(c).Execute(); err != nil {
		c.log.Error().Err(err).Msg("upshift")
		os.Exit(1)
	}
}

func newRootCommand(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:               "upshift",
		Short:             "Telemetry-driven upgrade orchestration",
		Long:              longHelp,
		Example:           exampleUsage,
		Version:           fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:      true,
		PersistentPreRunE: c.loadConfig,
	}
	c.bindFlags(root.PersistentFlags())

	root.AddCommand(c.runCommand(), c.validateCommand(), c.planCommand(), c.reportCommand())
	return root
}

func (c *cli) bindFlags(f *pflag.FlagSet) {
	cfg := &c.cfg
	f.StringVar(&c.cfgPath, "config", "", "path to config file (default: $HOME/.upshift/config.toml)")
	f.StringVar(&cfg.Home, "home", "", "state directory (default: $HOME/.upshift)")
	f.StringVar(&cfg.DefinitionsDir, "definitions-dir", "", "directory of upgrade definitions (default: <home>/definitions)")
	f.StringVar(&cfg.ModulesPath, "modules", "", "modules manifest (default: <home>/modules.toml)")
	f.StringVar(&cfg.SnapshotDir, "snapshot-dir", "", "snapshot directory (default: <home>/snapshots)")
	f.StringVar(&cfg.HistoryPath, "history", "", "history database (default: <home>/history.db)")
	f.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "status server address, empty to disable")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	f.BoolVar(&cfg.Watch, "watch", cfg.Watch, "rediscover when definitions or the manifest change")

	f.DurationVar(&cfg.DiscoveryInterval, "discovery-interval", cfg.DiscoveryInterval, "discovery pass interval")
	f.DurationVar(&cfg.TelemetryInterval, "telemetry-interval", cfg.TelemetryInterval, "capability check interval")
	f.DurationVar(&cfg.StabilityDuration, "stability-duration", cfg.StabilityDuration, "post-deploy health monitoring window")
	f.DurationVar(&cfg.StabilityPollInterval, "stability-poll", cfg.StabilityPollInterval, "health sampling interval during monitoring")
	f.DurationVar(&cfg.CanaryObservation, "canary-observation", cfg.CanaryObservation, "canary observation period")
	f.DurationVar(&cfg.ExecutionTimeout, "execution-timeout", cfg.ExecutionTimeout, "deadline for one execution")
	f.DurationVar(&cfg.RollbackTimeout, "rollback-timeout", cfg.RollbackTimeout, "deadline for a rollback")
	f.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "time allowed for in-flight upgrades on shutdown")

	f.IntVar(&cfg.MaxConcurrent, "max-concurrent", cfg.MaxConcurrent, "maximum concurrent executions")
	f.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "failed attempts before a definition is skipped (0 = unlimited)")
	f.Float64Var(&cfg.PerformanceThreshold, "performance-threshold", cfg.PerformanceThreshold, "capability performance below which a gap is reported")
	f.Float64Var(&cfg.MaxErrorRate, "max-error-rate", cfg.MaxErrorRate, "error rate that fails a health check")
	f.Float64Var(&cfg.MinPerformance, "min-performance", cfg.MinPerformance, "performance score that fails a health check (0 = off)")
	f.Float64Var(&cfg.MaxLoad, "max-load", cfg.MaxLoad, "system load that fails a health check (0 = off)")

	f.BoolVar(&cfg.AutoRollback, "auto-rollback", cfg.AutoRollback, "roll back failed upgrades automatically")
	f.BoolVar(&cfg.ProgressiveEnabled, "progressive", cfg.ProgressiveEnabled, "allow phased and canary rollouts")

	f.StringVar(&cfg.WebhookURL, "webhook-url", cfg.WebhookURL, "deployment service base URL")
	f.StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "deployment service API key")
	f.BoolVar(&cfg.WebhookValidate, "webhook-validate", cfg.WebhookValidate, "run post-deploy validation through the deployment service")

	f.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3-compatible endpoint for snapshots")
	f.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region")
	f.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket for snapshots (replaces snapshot-dir)")
	f.StringVar(&cfg.S3Prefix, "s3-prefix", cfg.S3Prefix, "S3 key prefix")
	f.StringVar(&cfg.S3AccessKey, "s3-access-key", cfg.S3AccessKey, "S3 access key")
	f.StringVar(&cfg.S3SecretKey, "s3-secret-key", cfg.S3SecretKey, "S3 secret key")
}

// loadConfig applies the config file, then UPSHIFT_* variables, then flags.
func (c *cli) loadConfig(cmd *cobra.Command, args []string) error {
	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&c.cfg, fc, changed); err != nil {
			return err
		}
	}

	if err := cliconfig.ApplyEnvConfig(&c.cfg, changed); err != nil {
		return err
	}

	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if err := cliconfig.SetLogLevel(c.cfg.LogLevel); err != nil {
		return err
	}

	c.log.Debug().Interface("config", c.cfg.Masked()).Msg("configuration")
	return nil
}

func (c *cli) newUpshift(opts ...upshift.Option) (*upshift.Upshift, error) {
	base := []upshift.Option{upshift.WithLogger(logAdapter.NewZerologAdapterWithLogger(c.log))}
	if c.cfg.WebhookURL == "" {
		base = append(base, upshift.WithExecutor(offlineExecutor{}))
	}
	return upshift.New(c.cfg.ToUpshift(), append(base, opts...)...)
}

func (c *cli) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the orchestration engine until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.WebhookURL == "" {
				return errors.New("webhook-url is required to run upgrades")
			}
			if err := os.MkdirAll(c.cfg.DefinitionsDir, 0o755); err != nil {
				return fmt.Errorf("definitions dir: %w", err)
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m, err := metrics.New(reg)
			if err != nil {
				return fmt.Errorf("metrics: %w", err)
			}

			opts := []upshift.Option{
				upshift.WithMetrics(m),
				upshift.WithEventHandler(&logHandler{log: c.log}),
			}
			if c.cfg.Watch {
				opts = append(opts, definitionwatcher.WithDefaultDefinitionWatcher())
			}

			u, err := c.newUpshift(opts...)
			if err != nil {
				return fmt.Errorf("create upshift: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := u.Start(ctx); err != nil {
				_ = u.Close()
				return fmt.Errorf("start upshift: %w", err)
			}

			serverErr := make(chan error, 1)
			if c.cfg.ListenAddr != "" {
				srv := api.New(u,
					api.WithLogger(c.log),
					api.WithGatherer(reg),
					api.WithMetrics(m),
				)
				go func() { serverErr <- srv.Run(ctx, c.cfg.ListenAddr) }()
				c.log.Info().Str("addr", c.cfg.ListenAddr).Msg("status server listening")
			}

			select {
			case <-ctx.Done():
				c.log.Info().Msg("received signal, stopping...")
			case err := <-serverErr:
				if err != nil {
					c.log.Error().Err(err).Msg("status server failed")
				}
			}
			stop()

			if err := u.Stop(); err != nil {
				return fmt.Errorf("stop upshift: %w", err)
			}
			return nil
		},
	}
}

func (c *cli) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [files...]",
		Short: "Check definition files without touching history or modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				entries, err := os.ReadDir(c.cfg.DefinitionsDir)
				if err != nil {
					return fmt.Errorf("read definitions dir: %w", err)
				}
				for _, e := range entries {
					if !e.IsDir() && fs.IsDefinitionFile(e.Name()) {
						paths = append(paths, filepath.Join(c.cfg.DefinitionsDir, e.Name()))
					}
				}
			}
			sort.Strings(paths)

			out := cmd.OutOrStdout()
			failed := 0
			seen := map[string]string{}
			for _, p := range paths {
				def, err := fs.LoadDefinitionFile(p)
				if err == nil {
					if first, dup := seen[def.ID]; dup {
						err = fmt.Errorf("duplicate id %q (first defined in %s)", def.ID, first)
					} else {
						seen[def.ID] = p
					}
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL  %s: %v\n", p, err)
					continue
				}
				fmt.Fprintf(out, "ok    %s (%s)\n", p, def.ID)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d definitions invalid", failed, len(paths))
			}
			return nil
		},
	}
}

func (c *cli) planCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what the next discovery pass would start",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := c.newUpshift()
			if err != nil {
				return err
			}
			defer u.Close()

			entries, err := u.Plan(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tPRIORITY\tSCORE\tBENEFIT\tDECISION")
			for _, e := range entries {
				decision := "start"
				if !e.Admitted {
					decision = "skip: " + string(e.Reason)
				}
				fmt.Fprintf(w, "%s\t%v\t%v\t%.0f\t%.2f\t%s\n",
					e.Definition.ID, e.Definition.Kind, e.Definition.Priority,
					e.Eligibility.Score, e.Definition.BenefitScore(), decision)
			}
			return w.Flush()
		},
	}
}

func (c *cli) reportCommand() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize execution history as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := c.newUpshift()
			if err != nil {
				return err
			}
			defer u.Close()

			report, err := u.Report(cmd.Context(), window)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().DurationVar(&window, "window", api.DefaultReportWindow, "trailing window to summarize (0 = all history)")
	return cmd
}

// offlineExecutor stands in for the deployment service in commands that
// never deploy.
type offlineExecutor struct{}

func (offlineExecutor) Deploy(context.Context, upshift.UpgradeDefinition, upshift.DeployRequest) (upshift.DeployResult, error) {
	return upshift.DeployResult{}, errors.New("no deployment service configured")
}

type logHandler struct {
	upshift.BaseEventHandler
	log zerolog.Logger
}

func (h *logHandler) OnEvent(ev upshift.Event) {
	e := h.log.Info()
	if ev.Error != "" {
		e = h.log.Warn().Str("error", ev.Error)
	}
	e.Str("definition", ev.DefinitionID).
		Str("execution", ev.ExecutionID).
		Str("state", string(ev.State)).
		Msg(string(ev.Type))
}
