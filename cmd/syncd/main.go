// syncd is the client-side replay daemon: it drains the durable offline
// queue to the ingestion endpoint whenever connectivity is available.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"example.com/ptlog/pkg/logclient"
)

func main() {
	logger := log.New(os.Stderr, "[syncd] ", log.LstdFlags)

	cfg := loadConfig()

	queue, err := logclient.OpenQueue(logclient.QueueConfig{
		Path:        cfg.queuePath,
		MaxEntries:  cfg.queueCapacity,
		MaxAttempts: cfg.retryCeiling,
		SyncWrites:  true,
	})
	if err != nil {
		logger.Fatalf("open queue: %v", err)
	}
	defer queue.Close()

	client := logclient.NewClient(cfg.apiURL, cfg.apiToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.flushInterval)
	defer ticker.Stop()

	logger.Printf("replaying against %s, %d pending", cfg.apiURL, queue.Pending())

	for {
		flush(ctx, logger, queue, client)

		select {
		case <-shutdownCh:
			cancel()
			logger.Printf("shutting down, %d still pending", queue.Pending())
			return
		case <-ticker.C:
		}
	}
}

func flush(ctx context.Context, logger *log.Logger, queue *logclient.Queue, client *logclient.Client) {
	if queue.Pending() == 0 {
		return
	}
	if !client.Healthy(ctx) {
		logger.Printf("endpoint unreachable, keeping %d pending", queue.Pending())
		return
	}

	report, err := queue.Replay(ctx, client)
	if err != nil {
		logger.Printf("replay aborted: %v", err)
		return
	}

	if report.Delivered+report.Duplicates+report.Retained+len(report.Abandoned) > 0 {
		logger.Printf("replay: delivered=%d duplicates=%d retained=%d abandoned=%d pending=%d",
			report.Delivered, report.Duplicates, report.Retained, len(report.Abandoned), queue.Pending())
	}

	// Abandoned work must never disappear silently.
	for _, entry := range report.Abandoned {
		logger.Printf("permanently failed: mutation=%s attempts=%d reason=%s",
			entry.Record.ClientMutationID, entry.Attempts, entry.Reason)
	}
}

type syncConfig struct {
	queuePath     string
	queueCapacity int
	retryCeiling  int
	apiURL        string
	apiToken      string
	flushInterval time.Duration
}

func loadConfig() syncConfig {
	return syncConfig{
		queuePath:     getEnv("QUEUE_PATH", "./ptlog-queue"),
		queueCapacity: getIntEnv("QUEUE_CAPACITY", 1000),
		retryCeiling:  getIntEnv("RETRY_CEILING", 5),
		apiURL:        getEnv("API_URL", "http://localhost:8080"),
		apiToken:      getEnv("API_TOKEN", ""),
		flushInterval: getDurationEnv("FLUSH_INTERVAL", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
