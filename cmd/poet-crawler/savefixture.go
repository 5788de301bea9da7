package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/poet-crawler/pkg/config"
	"github.com/Sriram-PR/poet-crawler/pkg/engine"
	"github.com/Sriram-PR/poet-crawler/pkg/fetch"
	"github.com/Sriram-PR/poet-crawler/pkg/fixture"
	"github.com/Sriram-PR/poet-crawler/pkg/inject"
	"github.com/Sriram-PR/poet-crawler/pkg/models"
	"github.com/Sriram-PR/poet-crawler/pkg/retry"
	"github.com/Sriram-PR/poet-crawler/pkg/stats"
	"github.com/Sriram-PR/poet-crawler/pkg/storage"
)

func newSaveFixtureCmd(state *cliState) *cobra.Command {
	var fixturesDir string
	cmd := &cobra.Command{
		Use:   "savefixture <page object> <URL>",
		Short: "Generate a test fixture for the given page object and URL",
		Long: `savefixture crawls a single URL with the named page object, records the
inputs injected into it and the item it returns, and writes them to
<fixtures_dir>/<page object type>/test-N. The clock the page object sees is
frozen for the run and stored in meta.json.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := fixtureConfig(state, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if fixturesDir != "" {
				appCfg.FixturesDir = fixturesDir
			}
			fx, err := runSaveFixture(cmd.Context(), state, appCfg, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nThe test fixture has been written to %s.\n", fx.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&fixturesDir, "fixtures-dir", "", "Base directory for fixtures (overrides fixtures_dir)")
	return cmd
}

// fixtureConfig loads the config file; a missing default config file means defaults
func fixtureConfig(state *cliState, explicit bool) (*config.AppConfig, error) {
	appCfg, err := loadConfig(state.configPath, state.log)
	if err == nil {
		return appCfg, nil
	}
	if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	state.log.Infof("No config file at '%s', using defaults", state.configPath)
	appCfg = &config.AppConfig{}
	if _, err := appCfg.Validate(); err != nil {
		return nil, err
	}
	return appCfg, nil
}

// runSaveFixture crawls rawURL once with the named page object and saves the fixture
func runSaveFixture(ctx context.Context, state *cliState, appCfg *config.AppConfig, pageName, rawURL string) (*fixture.Fixture, error) {
	registry := pageRegistry(state.log)
	factory, ok := registry.Lookup(pageName)
	if !ok {
		return nil, fmt.Errorf("unknown page object '%s' (available: %s)", pageName, strings.Join(registry.Names(), ", "))
	}
	typeName := inject.TypeName(factory())
	log := state.log.WithField("page_object", typeName)

	frozen := time.Now().UTC()
	recorder := fixture.NewRecorder()
	injector := recorder.Injector(inject.NewDefaultInjector(log, func() time.Time { return frozen }))

	store, err := storage.NewBadgerStore(ctx, "", "savefixture", false, log)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	rec := stats.NewRecorder()
	retryTimes := config.GetEffectivePageRetryTimes(config.SpiderConfig{}, *appCfg)
	coordinator := retry.NewCoordinator(retryTimes, rec, log)
	spider := engine.Spider{
		Name:          "injectable",
		StartRequests: []*models.Request{models.NewRequest(rawURL)},
		Callback:      coordinator.Callback(inject.Extractor(injector, factory)),
		UserAgent:     appCfg.DefaultUserAgent,
		DelayPerHost:  appCfg.DefaultDelayPerHost,
	}

	fetcher := fetch.NewFetcher(fetch.NewClient(appCfg.HTTPClientSettings, log), appCfg, rec, log)
	rateLimiter := fetch.NewRateLimiter(appCfg.DefaultDelayPerHost, log)
	var robots engine.RobotsChecker
	if appCfg.ObeyRobots {
		robots = fetch.NewRobotsHandler(fetcher, rateLimiter, appCfg.DefaultUserAgent, log)
	}
	eng, err := engine.New(appCfg, spider, engine.Options{
		Store:       store,
		Fetcher:     fetcher,
		Robots:      robots,
		Stats:       rec,
		RateLimiter: rateLimiter,
		Pipelines:   []engine.ItemPipeline{recorder},
	}, log)
	if err != nil {
		return nil, err
	}
	if _, err := eng.Run(ctx, false); err != nil {
		return nil, fmt.Errorf("crawling %s: %w", rawURL, err)
	}

	items := recorder.Items()
	if len(items) == 0 {
		return nil, fmt.Errorf("page object '%s' produced no item for %s", pageName, rawURL)
	}
	return fixture.Save(appCfg.FixturesDir, typeName, recorder.Inputs(), items[0], fixture.Meta{
		FrozenTime: frozen.Format(time.RFC3339Nano),
		URL:        rawURL,
	})
}
