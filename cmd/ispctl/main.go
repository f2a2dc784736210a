package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"ispctl/internal/api"
	"ispctl/internal/config"
)

const defaultServer = "http://127.0.0.1:8006"

type globalFlags struct {
	configPath string
	server     string
	logLevel   string
	logFormat  string
	trace      bool
}

func main() {
	ctx, cancel := signalContext()
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "ispctl",
		Short:         "ISP dashboard backend: router fleet, telemetry, billing and suspensions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "path to YAML config")
	pf.StringVar(&g.server, "server", "", "dashboard API base URL (default "+defaultServer+")")
	pf.StringVar(&g.logLevel, "log-level", "", "log level override")
	pf.StringVar(&g.logFormat, "log-format", "", "log format override (json|console)")
	pf.BoolVar(&g.trace, "trace", false, "export trace spans to stderr")

	root.AddCommand(
		newServeCmd(g),
		newImportCmd(g),
		newExportCmd(g),
		newPayCmd(g),
		newPaymentsCmd(g),
		newCheckCmd(g),
		newMonthsCmd(g),
		newSuspensionsCmd(g),
		newSettingsCmd(g),
		newSummaryCmd(g),
		newStatusCmd(g),
		newPollCmd(g),
		newWatchCmd(g),
	)
	return root
}

// config loads the file, applies overrides and defaults, then validates.
func (g *globalFlags) config() (config.Config, error) {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	overrideLog(&cfg.Log, g.logLevel, g.logFormat)
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (g *globalFlags) client() (*api.Client, error) {
	if g.server != "" {
		return api.NewClient(normalizeBaseURL(g.server)), nil
	}
	if g.configPath == "" {
		return api.NewClient(defaultServer), nil
	}
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	return api.NewClient(normalizeBaseURL(cfg.Server.Listen)), nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, nil
	}
	return config.Load(path)
}

func overrideLog(cfg *config.LogConfig, level, format string) {
	if level != "" {
		cfg.Level = level
	}
	if format != "" {
		cfg.Format = format
	}
}

func overrideServer(cfg *config.ServerConfig, listen, dataDir, inventory string) {
	if listen != "" {
		cfg.Listen = listen
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if inventory != "" {
		cfg.Inventory = inventory
	}
}

func overrideTelemetry(cfg *config.TelemetryConfig, natsURL, upstream string) {
	if natsURL != "" {
		cfg.NATSURL = natsURL
	}
	if upstream != "" {
		cfg.UpstreamURL = upstream
	}
}

func normalizeBaseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
