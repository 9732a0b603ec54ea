// devark is the capture-score-persist daemon. It observes prompts sent to
// AI coding tools, scores them through the configured LLM provider, and
// keeps history and session sync state under ~/.devark.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/devark-ai/devark/internal/app"
	"github.com/devark-ai/devark/internal/worker"
)

var version = "dev"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	root := &cobra.Command{
		Use:           "devark",
		Short:         "Prompt capture and coaching daemon for AI coding tools",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var addr string
	var debug bool
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.PersistentPreRun = func(*cobra.Command, []string) {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection and scoring daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", worker.DefaultAddr, "worker listen address")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload recent sessions to the devark backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context())
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon health",
		RunE: func(*cobra.Command, []string) error {
			return runStatus(addr)
		},
	}
	statusCmd.Flags().StringVar(&addr, "addr", worker.DefaultAddr, "worker address to query")

	root.AddCommand(serveCmd, syncCmd, statusCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func runServe(ctx context.Context, addr string) error {
	services, err := app.New(ctx, version)
	if err != nil {
		return err
	}
	defer services.Close()

	if err := services.Initialize(ctx); err != nil {
		return err
	}
	log.Info().Str("version", version).Msg("devark daemon started")
	return services.Start(ctx, addr)
}

func runSync(ctx context.Context) error {
	services, err := app.New(ctx, version)
	if err != nil {
		return err
	}
	defer services.Close()

	result, err := services.Sync.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %d, skipped %d, failed %d\n",
		result.SessionsUploaded, result.SessionsSkipped, len(result.Failures))
	for _, f := range result.Failures {
		fmt.Printf("  %s/%s: %s\n", f.Source, f.SessionID, f.Message)
	}
	if !result.Success {
		return fmt.Errorf("sync finished with %d failure(s)", len(result.Failures))
	}
	return nil
}

func runStatus(addr string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/api/health")
	if err != nil {
		fmt.Println("daemon: not running")
		return nil
	}
	defer resp.Body.Close()

	var health struct {
		Status        string `json:"status"`
		Version       string `json:"version"`
		UptimeSeconds int    `json:"uptimeSeconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	fmt.Printf("daemon: %s (version %s, up %ds)\n", health.Status, health.Version, health.UptimeSeconds)
	return nil
}
