package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mandi-monitor/chat"
	"mandi-monitor/config"
	"mandi-monitor/monitor"
	"mandi-monitor/monitor/enrich"
	"mandi-monitor/monitor/feature"
	"mandi-monitor/monitor/governor"
	"mandi-monitor/monitor/paapi"
	"mandi-monitor/monitor/pricer"
	"mandi-monitor/monitor/scheduler"
	"mandi-monitor/monitor/scrape"
	"mandi-monitor/monitor/search"
	"mandi-monitor/monitor/selector"
	"mandi-monitor/monitor/types"
	"mandi-monitor/pkg/telemetry"
	v1 "mandi-monitor/router/v1"
	"mandi-monitor/store"
)

const (
	logLevelJSON = "json"
	logLevelText = "text"

	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
)

var rootCmd = &cobra.Command{
	Use:   "mandi-monitor [config-file]",
	Args:  cobra.ExactArgs(1),
	Short: "mandi-monitor is a price-watch service for the Indian marketplace",
	Long: `A service that evaluates user-registered product watches against the
marketplace. It acquires prices through a cached, rate-limited pipeline with a
headless-scrape fallback, filters and ranks candidates per watch, and delivers
result cards through the chat transport. An admin HTTP surface exposes usage
counts, the price observation log and a live deal feed.`,
	RunE: monitorCmdHandler,
}

func init() {
	rootCmd.PersistentFlags().String(flagLogLevel, zerolog.InfoLevel.String(), "logging level")
	rootCmd.PersistentFlags().String(flagLogFormat, logLevelText, "logging format; must be either json or text")

	rootCmd.AddCommand(getVersionCmd())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func monitorCmdHandler(cmd *cobra.Command, args []string) error {
	logger, err := buildLogger(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.ParseConfig(args[0])
	if err != nil {
		return err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			return fmt.Errorf("failed to init error reporter: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	prometheusEnabled, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	g, ctx := errgroup.WithContext(ctx)

	// listen for and trap any OS signal to gracefully shutdown and exit
	trapSignal(cancel, logger)

	db, err := store.Open(cfg.HistoryDb, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	gov := governor.New(ctx, logger)
	api := paapi.NewClient(
		logger,
		gov,
		cfg.Marketplace.APIHost,
		cfg.Marketplace.APIRegion,
		cfg.APIAccessKey,
		cfg.APISecretKey,
		cfg.AffiliateTag,
		cfg.Marketplace.Host,
	)
	scraper := scrape.New(logger, "https://"+cfg.Marketplace.Host)
	oracle := pricer.New(logger, db, api, scraper)
	pipeline := search.NewPipeline(logger, api)
	enricher := enrich.NewService(logger, api)
	sel := selector.New(logger, feature.NewMatcher())

	builder := chat.NewBuilder(cfg.Marketplace.Host, cfg.AffiliateTag)
	digests := chat.NewDigestBuffer()
	transport := chat.NewLogTransport(logger)
	hub := v1.NewHub(logger)

	engine := monitor.NewEngine(
		logger,
		monitor.Config{SearchIndex: cfg.Marketplace.SearchIndex},
		pipeline,
		enricher,
		sel,
		oracle,
		db,
		builder,
		transport,
		digests,
		hub,
	)

	realtimeEvery, err := time.ParseDuration(cfg.Scheduler.RealtimeInterval)
	if err != nil {
		return fmt.Errorf("failed to parse realtime interval: %w", err)
	}
	jobTimeout, err := time.ParseDuration(cfg.Scheduler.JobTimeout)
	if err != nil {
		return fmt.Errorf("failed to parse job timeout: %w", err)
	}
	sched := scheduler.New(ctx, logger, scheduler.Config{
		DailyAt:       cfg.Scheduler.DailyAt,
		WakeStart:     cfg.Scheduler.WakeStart,
		WakeEnd:       cfg.Scheduler.WakeEnd,
		RealtimeEvery: realtimeEvery,
		JobTimeout:    jobTimeout,
		Workers:       cfg.Scheduler.Workers,
		Location:      cfg.Location(),
	}, engine)

	inbound := chat.NewInbound(logger, db, sched, transport)

	g.Go(func() error {
		return startScheduler(ctx, logger, db, sched)
	})

	if cfg.EnableServer {
		g.Go(func() error {
			return startServer(ctx, logger, cfg, db, builder, hub, inbound, prometheusEnabled)
		})
	}

	// Block main process until all spawned goroutines have gracefully exited
	// and signal has been captured in the main process or if an error occurs.
	return g.Wait()
}

func buildLogger(cmd *cobra.Command) (zerolog.Logger, error) {
	logLvlStr, err := cmd.Flags().GetString(flagLogLevel)
	if err != nil {
		return zerolog.Logger{}, err
	}

	logLvl, err := zerolog.ParseLevel(logLvlStr)
	if err != nil {
		return zerolog.Logger{}, err
	}

	logFormatStr, err := cmd.Flags().GetString(flagLogFormat)
	if err != nil {
		return zerolog.Logger{}, err
	}

	var logWriter io.Writer
	switch strings.ToLower(logFormatStr) {
	case logLevelJSON:
		logWriter = os.Stderr

	case logLevelText:
		logWriter = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.StampMilli,
		}

	default:
		return zerolog.Logger{}, fmt.Errorf("invalid logging format: %s", logFormatStr)
	}

	zerolog.TimeFieldFormat = time.StampMilli
	return zerolog.New(logWriter).Level(logLvl).With().Timestamp().Logger(), nil
}

// trapSignal will listen for any OS signal and cancel the root context
// allowing the main process to gracefully exit.
func trapSignal(cancel context.CancelFunc, logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)

	signal.Notify(sigCh, syscall.SIGTERM)
	signal.Notify(sigCh, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("caught signal; shutting down...")
		cancel()
	}()
}

// startScheduler registers every persisted watch with its job family, starts
// the digest flush job and blocks until shutdown.
func startScheduler(ctx context.Context, logger zerolog.Logger, db *store.Store, sched *scheduler.Scheduler) error {
	for _, mode := range []types.Mode{types.ModeDaily, types.ModeRealtime} {
		watches, err := db.ListWatchesByMode(ctx, mode)
		if err != nil {
			return fmt.Errorf("failed to load %s watches: %w", mode, err)
		}
		for _, w := range watches {
			sched.Register(w)
		}
		logger.Info().Int("count", len(watches)).Str("mode", string(mode)).Msg("watches registered")
	}
	sched.StartDigestFlush()

	<-ctx.Done()
	logger.Info().Msg("shutting down scheduler...")
	return ctx.Err()
}

func startServer(
	ctx context.Context,
	logger zerolog.Logger,
	cfg config.Config,
	db *store.Store,
	builder *chat.Builder,
	hub *v1.Hub,
	inbound *chat.Inbound,
	prometheusEnabled bool,
) error {
	rtr := mux.NewRouter()
	v1Router := v1.New(logger, v1.Config{
		AdminUser:        cfg.AdminUser,
		AdminPass:        cfg.AdminPass,
		EnablePrometheus: prometheusEnabled,
	}, db, builder, hub, inbound)
	v1Router.RegisterRoutes(rtr, v1.APIPathPrefix)

	writeTimeout, err := time.ParseDuration(cfg.Server.WriteTimeout)
	if err != nil {
		return err
	}
	readTimeout, err := time.ParseDuration(cfg.Server.ReadTimeout)
	if err != nil {
		return err
	}

	srvErrCh := make(chan error, 1)
	srv := &http.Server{
		Handler:           rtr,
		Addr:              cfg.Server.ListenAddr,
		WriteTimeout:      writeTimeout,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
	}

	go func() {
		logger.Info().Str("listen_addr", cfg.Server.ListenAddr).Msg("starting admin server...")
		srvErrCh <- srv.ListenAndServe()
	}()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			logger.Info().Str("listen_addr", cfg.Server.ListenAddr).Msg("shutting down admin server...")
			hub.Close()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("failed to gracefully shutdown admin server")
				return err
			}

			return nil

		case err := <-srvErrCh:
			logger.Error().Err(err).Msg("failed to start admin server")
			return err
		}
	}
}
