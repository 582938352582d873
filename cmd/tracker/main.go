// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command tracker is the desktop-side agent: it follows the authoritative
// session over the event channel, takes captures while the session is
// active, and offers one-shot session controls.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/timetrack/internal/client"
	"github.com/ManuGH/timetrack/internal/config"
	"github.com/ManuGH/timetrack/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

type globalFlags struct {
	configPath string
	apiURL     string
	token      string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "tracker",
		Short:        "Track work sessions and capture activity",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to config file (YAML)")
	root.PersistentFlags().StringVar(&g.apiURL, "api-url", "", "override channel.apiUrl")
	root.PersistentFlags().StringVar(&g.token, "token", "", "override channel.token")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override logLevel")

	root.AddCommand(
		newRunCmd(g),
		newStartCmd(g),
		newTransitionCmd(g, "pause", "Pause the active session"),
		newTransitionCmd(g, "resume", "Resume the paused session"),
		newTransitionCmd(g, "stop", "Stop the open session"),
		newStatusCmd(g),
	)
	return root
}

// load resolves configuration with flags taking precedence over ENV and file.
func (g *globalFlags) load() (*config.Loader, config.AppConfig, error) {
	loader := config.NewLoader(strings.TrimSpace(g.configPath), version)
	cfg, err := loader.Load()
	if err != nil {
		return nil, cfg, err
	}
	if g.apiURL != "" {
		cfg.Channel.APIURL = g.apiURL
	}
	if g.token != "" {
		cfg.Channel.Token = g.token
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if cfg.Channel.DeviceID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Channel.DeviceID = host
		}
	}

	logCfg := cfg.LogSettings()
	logCfg.Service = "timetrack-tracker"
	logCfg.Output = os.Stderr
	log.Configure(logCfg)
	return loader, cfg, nil
}

func newClient(cfg config.AppConfig) (*client.Client, error) {
	if cfg.Channel.Token == "" {
		return nil, fmt.Errorf("no token configured (set channel.token, %sTOKEN or --token)", config.EnvPrefix)
	}
	return client.New(cfg.Channel.APIURL, cfg.Channel.Token)
}
