package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cascadeflow/gateway/internal/config"
	"github.com/cascadeflow/gateway/internal/gateway"
	"github.com/cascadeflow/gateway/internal/logger"
)

var (
	flagConfig            string
	flagHost              string
	flagPort              int
	flagMode              string
	flagPreset            string
	flagNoStream          bool
	flagIncludeMetadata   bool
	flagCORSAllowOrigin   string
	flagTokenCost         float64
	flagAdvertiseModel    string
	flagVirtualModels     []string
	flagDemoMode          bool
	flagDemoMaxQueries    int
	flagDemoWindowSeconds int
	flagAuthToken         string
	flagStatsAuthToken    string
	flagVerbose           bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "gateway",
		Short:        "cascadeflow LLM gateway",
		Long:         "OpenAI- and Anthropic-compatible gateway that cascades requests through a cheap drafter and a strong verifier.",
		SilenceUsage: true,
		RunE:         run,
	}

	f := cmd.Flags()
	f.StringVar(&flagConfig, "config", "", "config file path")
	f.StringVar(&flagHost, "host", "", "listen host")
	f.IntVar(&flagPort, "port", 0, "listen port")
	f.StringVar(&flagMode, "mode", "", "gateway mode: auto, mock or agent")
	f.StringVar(&flagPreset, "preset", "", "named configuration preset")
	f.BoolVar(&flagNoStream, "no-stream", false, "force non-streaming responses")
	f.BoolVar(&flagIncludeMetadata, "include-gateway-metadata", false, "attach the cascadeflow envelope to responses")
	f.StringVar(&flagCORSAllowOrigin, "cors-allow-origin", "", "enable CORS for the given origin")
	f.Float64Var(&flagTokenCost, "token-cost", 0, "fallback USD per 1K tokens for unpriced models")
	f.StringVar(&flagAdvertiseModel, "advertise-model", "", "model name advertised to clients")
	f.StringArrayVar(&flagVirtualModels, "virtual-model", nil, "virtual model mapping name=concrete (repeatable)")
	f.BoolVar(&flagDemoMode, "demo-mode", false, "allow unauthenticated demo requests behind a quota")
	f.IntVar(&flagDemoMaxQueries, "demo-max-queries", 0, "demo requests allowed per window")
	f.IntVar(&flagDemoWindowSeconds, "demo-window-seconds", 0, "demo quota window in seconds")
	f.StringVar(&flagAuthToken, "auth-token", "", "bearer token required on API endpoints")
	f.StringVar(&flagStatsAuthToken, "stats-auth-token", "", "bearer token for /stats")
	f.BoolVar(&flagVerbose, "verbose", false, "debug logging")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	server, err := gateway.New(cfg, log)
	if err != nil {
		log.Error("gateway startup failed", zap.Error(err))
		os.Exit(2)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("gateway server failed", zap.Error(err))
		os.Exit(2)
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
	log.Info("shutdown complete")
	return nil
}

// applyFlags overlays explicitly-set flags on top of the loaded config.
// Returns usage errors for malformed values.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()

	if f.Changed("host") {
		cfg.Server.Host = flagHost
	}
	if f.Changed("port") {
		cfg.Server.Port = flagPort
	}
	if f.Changed("mode") {
		switch flagMode {
		case "auto", "mock", "agent":
			cfg.Gateway.Mode = flagMode
		default:
			return fmt.Errorf("invalid --mode %q: must be auto, mock or agent", flagMode)
		}
	}
	if f.Changed("preset") {
		cfg.Gateway.Preset = flagPreset
	}
	if f.Changed("no-stream") {
		cfg.Gateway.NoStream = flagNoStream
	}
	if f.Changed("include-gateway-metadata") {
		cfg.Gateway.IncludeGatewayMetadata = flagIncludeMetadata
	}
	if f.Changed("cors-allow-origin") {
		cfg.CORS.Enabled = true
		cfg.CORS.AllowOrigin = flagCORSAllowOrigin
	}
	if f.Changed("token-cost") {
		cfg.Gateway.TokenCost = flagTokenCost
	}
	if f.Changed("advertise-model") {
		cfg.Gateway.AdvertiseModel = flagAdvertiseModel
	}
	for _, mapping := range flagVirtualModels {
		name, concrete, ok := strings.Cut(mapping, "=")
		if !ok || name == "" || concrete == "" {
			return fmt.Errorf("invalid --virtual-model %q: expected name=concrete", mapping)
		}
		if cfg.VirtualModels == nil {
			cfg.VirtualModels = make(map[string]string)
		}
		cfg.VirtualModels[name] = concrete
	}
	if f.Changed("demo-mode") {
		cfg.Demo.Enabled = flagDemoMode
	}
	if f.Changed("demo-max-queries") {
		cfg.Demo.MaxQueries = flagDemoMaxQueries
	}
	if f.Changed("demo-window-seconds") {
		cfg.Demo.WindowSeconds = flagDemoWindowSeconds
	}
	if f.Changed("auth-token") {
		cfg.Auth.Token = flagAuthToken
	}
	if f.Changed("stats-auth-token") {
		cfg.Auth.StatsToken = flagStatsAuthToken
	}
	if flagVerbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "console"
	}
	return nil
}
