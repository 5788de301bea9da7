package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/poet-crawler/pkg/config"
	"github.com/Sriram-PR/poet-crawler/pkg/engine"
	"github.com/Sriram-PR/poet-crawler/pkg/fetch"
	"github.com/Sriram-PR/poet-crawler/pkg/inject"
	"github.com/Sriram-PR/poet-crawler/pkg/retry"
	"github.com/Sriram-PR/poet-crawler/pkg/stats"
	"github.com/Sriram-PR/poet-crawler/pkg/storage"
)

type crawlFlags struct {
	resume          bool
	metricsAddr     string
	itemsPath       string
	summaryPath     string
	visitedLogPath  string
	metricsShutdown time.Duration
}

func newCrawlCmd(state *cliState) *cobra.Command {
	flags := &crawlFlags{metricsShutdown: 5 * time.Second}
	cmd := &cobra.Command{
		Use:   "crawl <spider>",
		Short: "Run a configured spider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runCrawl(ctx, state, args[0], flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&flags.resume, "resume", false, "Resume using the existing state DB")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics_addr)")
	cmd.Flags().StringVar(&flags.itemsPath, "items", "", "Write scraped items as JSON lines to this file")
	cmd.Flags().StringVar(&flags.summaryPath, "summary", "", "Write the crawl summary YAML to this file")
	cmd.Flags().StringVar(&flags.visitedLogPath, "write-visited-log", "", "Write the final request status log to this file")
	return cmd
}

func runCrawl(ctx context.Context, state *cliState, spiderName string, flags *crawlFlags, out io.Writer) error {
	log := state.log
	appCfg, err := loadConfig(state.configPath, log)
	if err != nil {
		return err
	}
	logAppConfig(appCfg, log)
	spiderCfg, err := loadSpider(appCfg, spiderName, log)
	if err != nil {
		return err
	}

	factory, ok := pageRegistry(log).Lookup(spiderCfg.PageObject)
	if !ok {
		return fmt.Errorf("spider '%s': unknown page object '%s'", spiderName, spiderCfg.PageObject)
	}
	spiderLog := log.WithField("spider", spiderName)

	store, err := storage.NewBadgerStore(ctx, appCfg.StateDir, spiderName, flags.resume, spiderLog)
	if err != nil {
		return fmt.Errorf("failed to initialize request DB: %w", err)
	}
	defer store.Close()

	rec := stats.NewRecorder()
	metricsAddr := appCfg.MetricsAddr
	if flags.metricsAddr != "" {
		metricsAddr = flags.metricsAddr
	}
	if metricsAddr != "" {
		shutdown := serveMetrics(metricsAddr, rec, spiderName, spiderLog)
		defer shutdown(flags.metricsShutdown)
	}

	fetcher := fetch.NewFetcher(fetch.NewClient(appCfg.HTTPClientSettings, spiderLog), appCfg, rec, spiderLog)
	rateLimiter := fetch.NewRateLimiter(config.GetEffectiveDelayPerHost(spiderCfg, *appCfg), spiderLog)
	var robots engine.RobotsChecker
	if config.GetEffectiveObeyRobots(spiderCfg, *appCfg) {
		robots = fetch.NewRobotsHandler(fetcher, rateLimiter, config.GetEffectiveUserAgent(spiderCfg, *appCfg), spiderLog)
	}

	var pipelines []engine.ItemPipeline
	if flags.itemsPath != "" {
		writer, err := engine.NewItemWriter(flags.itemsPath, flags.resume, spiderLog)
		if err != nil {
			return err
		}
		defer writer.Close()
		pipelines = append(pipelines, writer)
	}

	injector := inject.NewDefaultInjector(spiderLog, time.Now)
	coordinator := retry.NewCoordinator(config.GetEffectivePageRetryTimes(spiderCfg, *appCfg), rec, spiderLog)
	callback := coordinator.Callback(inject.Extractor(injector, factory))
	spider := engine.SpiderFromConfig(spiderName, spiderCfg, *appCfg, callback)

	eng, err := engine.New(appCfg, spider, engine.Options{
		Store:       store,
		Fetcher:     fetcher,
		Robots:      robots,
		Stats:       rec,
		RateLimiter: rateLimiter,
		Pipelines:   pipelines,
	}, spiderLog)
	if err != nil {
		return err
	}

	summary, runErr := eng.Run(ctx, flags.resume)
	if summary != nil {
		printStats(out, summary.Stats)
		if flags.summaryPath != "" {
			if err := engine.WriteSummaryYAML(flags.summaryPath, summary, spiderLog); err != nil {
				log.Errorf("Failed to write crawl summary: %v", err)
			}
		}
	}

	if runErr == nil && flags.visitedLogPath != "" {
		if err := store.WriteVisitedLog(flags.visitedLogPath); err != nil {
			log.Errorf("Error writing final visited log: %v", err)
		}
	}

	switch {
	case runErr == nil:
		log.Info("Crawl completed successfully.")
		return nil
	case errors.Is(runErr, context.Canceled):
		log.Warn("Crawl cancelled gracefully.")
		return nil
	case errors.Is(runErr, context.DeadlineExceeded):
		return fmt.Errorf("crawl timed out (global timeout): %w", runErr)
	default:
		return fmt.Errorf("crawl finished with error: %w", runErr)
	}
}

// serveMetrics exposes rec on addr/metrics and returns a shutdown function
func serveMetrics(addr string, rec *stats.Recorder, spiderName string, log *logrus.Entry) func(time.Duration) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(stats.NewPromCollector(rec, "poet_crawler", prometheus.Labels{"spider": spiderName}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("Serving metrics on http://%s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server failed on %s: %v", addr, err)
		}
	}()
	return func(timeout time.Duration) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warnf("Metrics server shutdown: %v", err)
		}
	}
}

// printStats writes the final counters sorted by name
func printStats(out io.Writer, snapshot map[string]int64) {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(out, "Final stats:")
	for _, name := range names {
		fmt.Fprintf(out, "  %-45s %d\n", name, snapshot[name])
	}
}
