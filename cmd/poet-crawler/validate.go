package main

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/poet-crawler/pkg/config"
	"github.com/Sriram-PR/poet-crawler/pkg/pages"
)

var errInvalidConfig = errors.New("configuration has errors")

func newValidateCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [spider]",
		Short: "Validate the configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spiderName := ""
			if len(args) == 1 {
				spiderName = args[0]
			}
			return doValidate(state, spiderName, cmd.OutOrStdout())
		},
	}
}

// doValidate validates the app config and one or all spiders, writing a report to out
func doValidate(state *cliState, spiderName string, out io.Writer) error {
	appCfg, err := config.Load(state.configPath)
	if err != nil {
		return err
	}
	warnings, err := appCfg.Validate()
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(out, "WARN: %s\n", w)
	}

	registry := pages.DefaultRegistry(nil)
	names := spiderNames(appCfg)
	if spiderName != "" {
		if _, ok := appCfg.Spiders[spiderName]; !ok {
			return fmt.Errorf("spider '%s' not found in config", spiderName)
		}
		names = []string{spiderName}
	}

	hasError := false
	for _, name := range names {
		spiderCfg := appCfg.Spiders[name]
		spiderWarnings, err := spiderCfg.Validate()
		if err != nil {
			fmt.Fprintf(out, "ERROR: [%s] %v\n", name, err)
			hasError = true
			continue
		}
		if _, ok := registry.Lookup(spiderCfg.PageObject); !ok {
			fmt.Fprintf(out, "ERROR: [%s] unknown page object '%s'\n", name, spiderCfg.PageObject)
			hasError = true
			continue
		}
		for _, w := range spiderWarnings {
			fmt.Fprintf(out, "WARN: [%s] %s\n", name, w)
		}
		fmt.Fprintf(out, "OK: Spider '%s' configuration is valid\n", name)
	}
	if hasError {
		return errInvalidConfig
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "WARN: no spiders configured")
	}
	return nil
}

func newListSpidersCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "list-spiders",
		Short: "List configured spiders and available page objects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := config.Load(state.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Spiders:")
			for _, name := range spiderNames(appCfg) {
				spiderCfg := appCfg.Spiders[name]
				fmt.Fprintf(out, "  %-20s page_object=%s start_urls=%d\n", name, spiderCfg.PageObject, len(spiderCfg.StartURLs))
			}
			fmt.Fprintln(out, "Page objects:")
			for _, name := range pages.DefaultRegistry(nil).Names() {
				fmt.Fprintf(out, "  %s\n", name)
			}
			return nil
		},
	}
}

func spiderNames(appCfg *config.AppConfig) []string {
	names := make([]string, 0, len(appCfg.Spiders))
	for name := range appCfg.Spiders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
