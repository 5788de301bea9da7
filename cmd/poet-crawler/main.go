package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/poet-crawler/pkg/config"
	"github.com/Sriram-PR/poet-crawler/pkg/pages"
	"github.com/Sriram-PR/poet-crawler/pkg/process"
)

const version = "0.3.0"

// cliState is shared by all subcommands of one invocation
type cliState struct {
	configPath string
	logLevel   string
	log        *logrus.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	state := &cliState{}
	root := &cobra.Command{
		Use:   "poet-crawler",
		Short: "Crawler driving page objects with extraction retries",
		Long: `poet-crawler crawls configured spiders. Each response is handed to a page
object built from injected inputs; a page object may ask for the page to be
downloaded again, within the page_retry_times budget.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			state.log = newLogger(state.logLevel, cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&state.configPath, "config", "config.yaml", "Path to YAML config file")
	root.PersistentFlags().StringVar(&state.logLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newCrawlCmd(state),
		newSaveFixtureCmd(state),
		newValidateCmd(state),
		newListSpidersCmd(state),
		newVersionCmd(),
	)
	return root
}

// newLogger builds the logrus logger used by every command
func newLogger(level string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", level, err)
		return log
	}
	log.SetLevel(parsed)
	return log
}

// loadConfig reads and validates the app config, logging its warnings
func loadConfig(path string, log *logrus.Logger) (*config.AppConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Warn(w)
	}
	return cfg, nil
}

// loadSpider returns the validated config of one spider
func loadSpider(cfg *config.AppConfig, name string, log *logrus.Logger) (config.SpiderConfig, error) {
	spiderCfg, ok := cfg.Spiders[name]
	if !ok {
		return config.SpiderConfig{}, fmt.Errorf("spider '%s' not found in config", name)
	}
	warnings, err := spiderCfg.Validate()
	if err != nil {
		return config.SpiderConfig{}, fmt.Errorf("spider '%s' configuration error: %w", name, err)
	}
	for _, w := range warnings {
		log.Warnf("[%s] %s", name, w)
	}
	return spiderCfg, nil
}

// pageRegistry returns the built-in page objects; token counts are
// disabled when the tokenizer cannot be loaded.
func pageRegistry(log *logrus.Logger) *pages.Registry {
	tok, err := process.NewTokenizer(process.DefaultEncoding)
	if err != nil {
		log.Warnf("Tokenizer unavailable, token counts disabled: %v", err)
		tok = nil
	}
	return pages.DefaultRegistry(tok)
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Workers:%d, MaxReqs:%d, MaxReqPerHost:%d, DefaultDelay:%v, StateDir:%s",
		appCfg.NumWorkers, appCfg.MaxRequests, appCfg.MaxRequestsPerHost, appCfg.DefaultDelayPerHost, appCfg.StateDir)
	log.Infof("Global Config Retries: Network Max:%d, InitialDelay:%v, MaxDelay:%v, PageRetryTimes:%d",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay, config.GetEffectivePageRetryTimes(config.SpiderConfig{}, *appCfg))
	log.Infof("Global Config Timeouts: SemaphoreAcquire:%v, GlobalCrawl:%v, PerRequest:%v",
		appCfg.SemaphoreAcquireTimeout, appCfg.GlobalCrawlTimeout, appCfg.PerRequestTimeout)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns,
		appCfg.HTTPClientSettings.MaxIdleConnsPerHost, appCfg.HTTPClientSettings.IdleConnTimeout)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "poet-crawler %s\n", version)
		},
	}
}
