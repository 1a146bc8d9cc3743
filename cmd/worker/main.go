package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rudra775/pixelate-saas/internal/config"
	"github.com/Rudra775/pixelate-saas/internal/logging"
	"github.com/Rudra775/pixelate-saas/internal/models"
	"github.com/Rudra775/pixelate-saas/internal/processor"
	"github.com/Rudra775/pixelate-saas/internal/queue"
	"github.com/Rudra775/pixelate-saas/internal/server"
	"github.com/Rudra775/pixelate-saas/internal/storage"
)

var (
	cfgFile string
	cfg     config.Config
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "pixelate-worker",
	Short:         "Thumbnail worker: picks the sharpest frame of an uploaded video",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logging.Init(cfg.LogLevel, cfg.LogPretty, os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default: $WORKER_CONFIG)")

	enqueueCmd.Flags().String("video-id", "", "video row id")
	enqueueCmd.Flags().String("url", "", "public URL of the uploaded video")
	enqueueCmd.Flags().String("user-id", "", "owner of the video")
	enqueueCmd.Flags().String("name", "", "original file name")
	for _, f := range []string{"video-id", "url", "user-id", "name"} {
		_ = enqueueCmd.MarkFlagRequired(f)
	}

	rootCmd.AddCommand(runCmd, processCmd, enqueueCmd, statusCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Consume jobs from the queue until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWorker(ctx)
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one job payload read from stdin and write the result to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := processOne(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			writeJSON(cmd.OutOrStdout(), map[string]interface{}{"success": false, "error": err.Error()})
		}
		return err
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit a video for processing",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := models.JobPayload{}
		payload.VideoID, _ = cmd.Flags().GetString("video-id")
		payload.VideoURL, _ = cmd.Flags().GetString("url")
		payload.UserID, _ = cmd.Flags().GetString("user-id")
		payload.OriginalName, _ = cmd.Flags().GetString("name")

		producer, err := newProducer()
		if err != nil {
			return err
		}
		defer producer.Close()

		id, err := producer.Enqueue(cmd.Context(), payload)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job id>",
	Short: "Show the queue state of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		producer, err := newProducer()
		if err != nil {
			return err
		}
		defer producer.Close()

		status, err := producer.JobStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), status)
	},
}

func runWorker(ctx context.Context) error {
	log.Info().Msg("pixelate worker starting")

	store, err := storage.NewStorageManager(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()
	log.Info().Msg("postgres connection established")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse Redis URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to Redis: %w", err)
	}
	log.Info().Msg("redis connection established")

	vp, err := newProcessor(ctx, store, processor.NewRedisProgressPublisher(redisClient))
	if err != nil {
		return err
	}

	if cfg.TempSweepInterval > 0 && cfg.TempMaxAge > 0 {
		sweeper, err := vp.ScheduleSweep(cfg.TempSweepInterval, cfg.TempMaxAge)
		if err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	producer, err := newProducer()
	if err != nil {
		return err
	}
	defer producer.Close()

	admin := server.NewAdminServer(cfg.AdminAddr, server.Deps{
		Videos: store,
		Jobs:   producer,
		Checks: map[string]server.Check{
			"postgres": store.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	})
	admin.Start()

	consumer, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:    cfg.RedisURL,
		Concurrency: cfg.WorkerConcurrency,
		JobTimeout:  cfg.JobTimeout,
		Runner:      vp,
	})
	if err != nil {
		return err
	}
	if err := consumer.Start(); err != nil {
		return err
	}

	log.Info().
		Int("concurrency", cfg.WorkerConcurrency).
		Str("storage", cfg.StorageBackend).
		Str("admin", cfg.AdminAddr).
		Msg("worker ready")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, stopping gracefully")

	consumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("admin server shutdown")
	}

	log.Info().Msg("worker stopped")
	return nil
}

// processOne runs a single payload outside the queue. Progress is not
// published; the video row is still updated.
func processOne(ctx context.Context, in io.Reader, out io.Writer) error {
	var payload models.JobPayload
	if err := json.NewDecoder(in).Decode(&payload); err != nil {
		return fmt.Errorf("parse job payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	store, err := storage.NewStorageManager(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()

	vp, err := newProcessor(ctx, store, nil)
	if err != nil {
		return err
	}

	if cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.JobTimeout)
		defer cancel()
	}

	result, err := vp.Process(ctx, models.NewJob("", 1, payload))
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]interface{}{"success": true, "result": result})
}

func newProducer() (*queue.RedisProducer, error) {
	return queue.NewRedisProducer(&queue.RedisProducerConfig{
		RedisURL: cfg.RedisURL,
		MaxRetry: cfg.JobMaxRetry,
		Timeout:  cfg.JobTimeout,
	})
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
