package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/busybox42/listflow/internal/api"
	"github.com/busybox42/listflow/internal/bounce"
	"github.com/busybox42/listflow/internal/cache"
	"github.com/busybox42/listflow/internal/config"
	"github.com/busybox42/listflow/internal/delivery"
	"github.com/busybox42/listflow/internal/inject"
	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/logging"
	"github.com/busybox42/listflow/internal/membership"
	"github.com/busybox42/listflow/internal/pipeline"
	"github.com/busybox42/listflow/internal/queue"
	"github.com/busybox42/listflow/internal/runner"
)

var (
	configPath string
	version    = "dev"
	commit     = "unknown"
	date       = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "listflow",
		Short: "Listflow - mailing list message processor",
		Long: `Listflow drains durable message queues through per-list processing
pipelines: moderation, header cooking, recipient calculation, delivery
fan-out and bounce classification.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(injectCmd)
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the runner fleet",
	Long:  "Run the incoming, outgoing, bounce and retry runners, plus the ops API when enabled",
	RunE:  runServe,
}

var injectCmd = &cobra.Command{
	Use:   "inject <listname> [file]",
	Short: "Inject a message into the incoming queue",
	Long:  "Read a message from a file or stdin and enqueue it for the named list",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runInject,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Listflow %s\n", cmd.Root().Version)
	},
}

func init() {
	injectCmd.Flags().StringSlice("recipient", nil, "explicit recipient (repeatable); overrides roster calculation")
}

// app is the wired-up process: queues, stores, pipeline and collaborators.
type app struct {
	cfg *config.Config

	incoming *queue.Switchboard
	outgoing *queue.Switchboard
	bounces  *queue.Switchboard
	retry    *queue.Switchboard
	hold     *queue.Switchboard
	archive  *queue.Switchboard

	lists    *list.Store
	members  membership.Store
	seen     cache.SeenCache
	deliver  delivery.Deliverer
	registry *pipeline.Registry

	closers []func() error
}

func buildApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	for _, spec := range []struct {
		dst  **queue.Switchboard
		name string
	}{
		{&a.incoming, queue.Incoming},
		{&a.outgoing, queue.Outgoing},
		{&a.bounces, queue.Bounces},
		{&a.retry, queue.Retry},
		{&a.hold, queue.Hold},
		{&a.archive, queue.Archive},
	} {
		sb, err := queue.Open(cfg.Queue.Dir, spec.name)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s queue: %w", spec.name, err)
		}
		*spec.dst = sb
	}

	a.lists = list.NewStore(cfg.Lists.Dir)

	members, err := membership.Factory(cfg.MembershipSettings())
	if err != nil {
		return nil, err
	}
	if err := members.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect membership store: %w", err)
	}
	a.members = members
	a.closers = append(a.closers, members.Close)

	seen, err := cache.Factory(cfg.CacheSettings())
	if err != nil {
		return nil, err
	}
	if err := seen.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect seen cache: %w", err)
	}
	a.seen = seen
	a.closers = append(a.closers, seen.Close)

	a.deliver, err = buildDeliverer(cfg)
	if err != nil {
		return nil, err
	}

	a.registry, err = pipeline.DefaultRegistry(pipeline.Deps{
		Members:   a.members,
		Seen:      a.seen,
		Outgoing:  a.outgoing,
		Archive:   a.archive,
		Deliverer: a.deliver,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("shutdown cleanup failed", "error", err)
		}
	}
}

func buildDeliverer(cfg *config.Config) (delivery.Deliverer, error) {
	var d delivery.Deliverer
	switch cfg.Delivery.Type {
	case "command":
		d = delivery.NewCommand(cfg.Delivery.Command, cfg.Delivery.Args...)
	case "sink":
		d = delivery.NewSink()
	default:
		return nil, fmt.Errorf("unknown delivery type: %s", cfg.Delivery.Type)
	}
	if cfg.Delivery.Breaker.Enabled {
		bc := delivery.DefaultBreakerConfig()
		if cfg.Delivery.Breaker.MaxFailures > 0 {
			bc.ConsecutiveFailures = uint32(cfg.Delivery.Breaker.MaxFailures)
		}
		if cfg.Delivery.Breaker.ResetAfter > 0 {
			bc.Timeout = time.Duration(cfg.Delivery.Breaker.ResetAfter) * time.Second
		}
		d = delivery.NewBreaker(d, bc)
	}
	return d, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	closeLog, err := logging.Setup(logging.Config{
		Type:   cfg.Logging.Type,
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// Pipelines resolve now, not mid-cycle.
	names, err := a.lists.Names()
	if err != nil {
		return fmt.Errorf("failed to enumerate lists: %w", err)
	}
	for _, name := range names {
		lst, err := a.lists.Get(name)
		if err != nil {
			return fmt.Errorf("invalid list configuration: %w", err)
		}
		if err := a.registry.Validate(lst); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	incomingH := runner.NewIncoming(runner.IncomingConfig{
		Board:       a.incoming,
		Hold:        a.hold,
		Retry:       a.retry,
		Lists:       a.lists,
		Registry:    a.registry,
		Notices:     a.deliver,
		LockDir:     cfg.Locks.Dir,
		LockTimeout: cfg.LockTimeout(),
	})
	outgoingH := runner.NewOutgoing(a.outgoing, a.retry, a.lists, a.registry)
	bounceH := runner.NewBounce(a.bounces, a.lists, a.members,
		bounce.New(bounce.DefaultModules()), cfg.Locks.Dir, cfg.LockTimeout())

	fleet := runner.NewFleet(runner.FleetConfig{
		IncomingSlices: cfg.Runners.IncomingSlices,
		OutgoingSlices: cfg.Runners.OutgoingSlices,
		BounceSlices:   cfg.Runners.BounceSlices,
		Interval:       cfg.RunnerInterval(),
		RetryPeriod:    cfg.RetryPeriod(),
	}, a.incoming, a.outgoing, a.bounces, a.retry, incomingH, outgoingH, bounceH)

	if cfg.API.Enabled {
		boards := map[string]*queue.Switchboard{
			queue.Incoming: a.incoming,
			queue.Outgoing: a.outgoing,
			queue.Bounces:  a.bounces,
			queue.Retry:    a.retry,
			queue.Hold:     a.hold,
			queue.Archive:  a.archive,
		}
		srv := api.NewServer(cfg.API.Listen, boards, a.hold, a.incoming)
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("api server failed", "error", err)
			}
		}()
	}

	err = fleet.Run(ctx)
	if errors.Is(err, context.Canceled) {
		slog.Info("shutdown complete")
		return nil
	}
	return err
}

func runInject(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var raw []byte
	if len(args) > 1 {
		raw, err = os.ReadFile(args[1])
	} else {
		raw, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	incoming, err := queue.Open(cfg.Queue.Dir, queue.Incoming)
	if err != nil {
		return err
	}
	recips, _ := cmd.Flags().GetStringSlice("recipient")
	var explicit []string
	if len(recips) > 0 {
		explicit = recips
	}

	id, err := inject.New(incoming, list.NewStore(cfg.Lists.Dir)).Inject(args[0], raw, explicit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "injected %s (%d bytes) as %s\n", args[0], len(raw), id)
	return nil
}
