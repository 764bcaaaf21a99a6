// Command mediaforge runs the HTTP media service: audio transcription,
// image generation, and video post-processing behind one API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/alnah/mediaforge/internal/apierr"
	"github.com/alnah/mediaforge/internal/audio"
	"github.com/alnah/mediaforge/internal/config"
	"github.com/alnah/mediaforge/internal/ffmpeg"
	"github.com/alnah/mediaforge/internal/imagegen"
	"github.com/alnah/mediaforge/internal/job"
	"github.com/alnah/mediaforge/internal/logging"
	"github.com/alnah/mediaforge/internal/server"
	"github.com/alnah/mediaforge/internal/transcribe"
	"github.com/alnah/mediaforge/internal/video"
)

// Injected at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const (
	ExitOK      = 0
	ExitGeneral = 1
	ExitSetup   = 3
)

const shutdownGrace = 30 * time.Second

func main() {
	// Load .env file if present (ignore error if missing).
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := &cobra.Command{
		Use:     "mediaforge",
		Short:   "Transcribe audio, generate images, and process video over HTTP",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		// Silence Cobra's default error/usage printing; we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the media service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

// serve wires the pipeline and runs the HTTP server until the context
// is cancelled or the listener fails.
func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logging.Init(cfg.SlogLevel(), cfg.LogJSON)
	log := logging.ForService("main")

	ffmpegPath, err := ffmpeg.Resolve()
	if err != nil {
		return err
	}

	transformer, err := audio.NewTransformer(ffmpegPath)
	if err != nil {
		return err
	}
	planner, err := audio.NewPlanner(ffmpegPath,
		audio.WithChunkTime(cfg.ChunkTime),
		audio.WithNoiseDB(cfg.SilenceThresholdDB),
		audio.WithMinSilence(cfg.SilenceDuration),
		audio.WithSilenceWindow(cfg.SilenceWindow),
		audio.WithMinChunkDuration(cfg.MinChunkDuration),
	)
	if err != nil {
		return err
	}

	oa := openai.NewClient(cfg.OpenAIAPIKey)
	retry := apierr.RetryConfig{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.InitialRetryDelay,
		MaxDelay:   apierr.DefaultMaxDelay,
		Jitter:     true,
	}

	// Each job gets its own client so chunk caching stays scoped to the
	// job's working directory.
	newBatch := func(jobDir, language string) job.Transcriber {
		client := transcribe.NewClient(oa, transcribe.NewCache(jobDir),
			transcribe.WithRetry(retry),
			transcribe.WithLanguage(language),
			transcribe.WithRequestTimeout(cfg.RequestTimeout),
		)
		return transcribe.NewBatch(client,
			transcribe.WithConcurrency(cfg.ConcurrentChunks))
	}

	orch := job.NewOrchestrator(transformer, planner, newBatch, cfg.TempDir, cfg.OutputDir)
	store := job.NewStore(cfg.TempDir, cfg.OutputDir)
	images := imagegen.NewGenerator(oa, cfg.OutputDir,
		imagegen.WithRetry(retry),
		imagegen.WithRequestTimeout(cfg.RequestTimeout),
	)
	videos, err := video.NewProcessor(ffmpegPath, cfg.OutputDir)
	if err != nil {
		return err
	}

	sweeper := job.NewSweeper(cfg.TempFileMaxAge, []string{cfg.TempDir, cfg.OutputDir})
	go sweeper.Run(ctx)

	srv := server.New(cfg, orch, store, images, videos)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", "grace", shutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// exitCode distinguishes setup problems from runtime failures so
// supervisors can tell a misconfigured host from a crashed service.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, ffmpeg.ErrNotFound) || errors.Is(err, apierr.ErrAuthFailed) {
		return ExitSetup
	}
	return ExitGeneral
}
