// rbchat serves a conversational interface over a relational database:
// natural-language questions in, streamed answers out, with tool calls
// brokered through an external tool host.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shayan1083/rbchat-backend/internal/chat"
	"github.com/shayan1083/rbchat-backend/internal/config"
	"github.com/shayan1083/rbchat-backend/internal/files"
	"github.com/shayan1083/rbchat-backend/internal/history"
	"github.com/shayan1083/rbchat-backend/internal/llm"
	"github.com/shayan1083/rbchat-backend/internal/ratelimit"
	"github.com/shayan1083/rbchat-backend/internal/server"
	"github.com/shayan1083/rbchat-backend/internal/tokens"
	"github.com/shayan1083/rbchat-backend/internal/toolhost"
	"github.com/shayan1083/rbchat-backend/internal/usagelog"
)

var (
	flagConfig string
	flagAddr   string
	flagDebug  bool
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "rbchat",
	Short: "Chat with a relational database",
	Long:  "Serves the rbchat backend: a streaming LLM agent that answers natural-language questions by querying a relational database through a tool host.",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("rbchat", version)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "Path to YAML config file")
	rootCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (overrides config)")
	rootCmd.Flags().BoolVarP(&flagDebug, "debug", "d", false, "Enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupLogging configures the global zerolog logger. A terminal gets the
// console writer; everything else gets JSON lines.
func setupLogging(level string, debug bool, out io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if f, ok := out.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			out = zerolog.ConsoleWriter{Out: f, TimeFormat: time.Kitchen}
		}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	// net/http server errors go through the standard logger; route them into
	// the structured stream instead of raw stderr.
	stdlog.SetOutput(log.Logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.Server.Addr = flagAddr
	}
	setupLogging(cfg.Logging.Level, flagDebug, os.Stderr)

	histStore, err := history.Open(cfg.History.DBPath)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer func() { _ = histStore.Close() }()

	// Usage rows share the history database file; the JSONL mirror is optional.
	usageLogger, err := usagelog.Open(cfg.History.DBPath, cfg.Logging.UsageLogPath)
	if err != nil {
		return fmt.Errorf("opening usage log: %w", err)
	}
	defer func() { _ = usageLogger.Close() }()

	fileStore, err := files.Open(cfg.Files.DBPath, cfg.Files.MaxFileSize)
	if err != nil {
		return fmt.Errorf("opening file store: %w", err)
	}
	defer func() { _ = fileStore.Close() }()

	toolClient := toolhost.NewClient(cfg.ToolHost.BaseURL, cfg.ToolHost.Timeout)
	modelClient := llm.NewOpenAIClient(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Name)

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := modelClient.Healthcheck(startupCtx); err != nil {
		log.Warn().Err(err).Str("base_url", cfg.Model.BaseURL).Msg("model endpoint not reachable at startup")
	}

	defs, err := toolClient.ListTools(startupCtx)
	if err != nil {
		return fmt.Errorf("listing tools from %s: %w", cfg.ToolHost.BaseURL, err)
	}
	log.Info().Int("tools", len(defs)).Str("tool_host", cfg.ToolHost.BaseURL).Msg("tool host connected")

	agent := llm.NewAgent(modelClient, toolClient, defs, cfg.Model.MaxToolRounds)
	window := ratelimit.NewUsageWindow(cfg.RateLimit.TokenLimit, cfg.RateLimit.Window)
	meter := server.NewUsageMeter(window, usageLogger)
	orch := chat.New(agent, toolClient, histStore, meter, cfg.Model.Name, cfg.History.MemoryLimit)
	srv := server.New(orch, window, tokens.NewEstimator(), fileStore, toolClient)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
		// No write timeout: query streams stay open for the whole turn.
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("model", cfg.Model.Name).Msg("rbchat listening")
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
