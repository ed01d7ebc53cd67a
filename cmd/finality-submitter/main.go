package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"pcidss-oracle/config"
	"pcidss-oracle/internal/chain"
	"pcidss-oracle/pkg/cache"
	"pcidss-oracle/pkg/logger"
	streams "pcidss-oracle/pkg/queue"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var Cfg config.OracleConfig

const finalityStream = "finality_outcomes"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	configPath := config.Path(root).Join("config.toml")

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("starting finality-submitter worker...")

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	chainClient, err := chain.NewClient(chain.Config{
		WSEndpoint:   Cfg.Chain.Endpoint,
		SignerSeed:   Cfg.Chain.SignerSeed,
		PalletName:   "ISO8583",
		CallRegister: "register",
		CallFinality: "submit_finality",
	})
	if err != nil {
		return fmt.Errorf("failed to connect to chain: %w", err)
	}
	defer chainClient.Close()

	submitter := chain.NewSubmitter(chainClient)

	queue := streams.NewStreamQueue(cache.Client)
	groupName := "finality_workers"
	consumerName := fmt.Sprintf("finality-worker-%d", time.Now().Unix())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := queue.DeclareStream(ctx, finalityStream, groupName); err != nil {
		return fmt.Errorf("failed to declare the consumer group: %w", err)
	}

	go func() {
		err := queue.Consume(ctx, finalityStream, groupName, consumerName,
			func(messageID string, data []byte) error {
				return processOutcome(ctx, submitter, data)
			})
		if err != nil && err != context.Canceled {
			logger.Error("consumer error", zap.Error(err))
		}
	}()

	logger.Info("finality-submitter worker is running, waiting for outcomes...",
		zap.String("stream", finalityStream),
		zap.String("group", groupName),
		zap.String("consumer", consumerName),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	time.Sleep(3 * time.Second)
	logger.Info("finality-submitter worker shut down gracefully")

	return nil
}

// processOutcome handles a single queued chain.Outcome: deserialize and
// submit the corresponding extrinsic. A failure here is left un-ACKed so
// the queue redelivers it; there is no local retry loop.
func processOutcome(ctx context.Context, submitter *chain.Submitter, data []byte) error {
	outcome, err := chain.UnmarshalOutcome(data)
	if err != nil {
		return fmt.Errorf("invalid outcome message: %w", err)
	}

	logger.Info("submitting finality outcome",
		zap.String("event_id", outcome.EventID),
		zap.String("response_code", outcome.ResponseCode),
	)

	if err := submitter.Submit(ctx, outcome); err != nil {
		return fmt.Errorf("failed to submit finality extrinsic: %w", err)
	}

	logger.Info("finality outcome submitted", zap.String("event_id", outcome.EventID))
	return nil
}
