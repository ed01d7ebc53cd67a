package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"pcidss-oracle/config"
	"pcidss-oracle/internal/bootstrap"
	"pcidss-oracle/internal/chain"
	"pcidss-oracle/internal/ledger/postgres"
	"pcidss-oracle/internal/processor"
	"pcidss-oracle/internal/rpc"
	"pcidss-oracle/pkg/cache"
	"pcidss-oracle/pkg/logger"
	streams "pcidss-oracle/pkg/queue"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
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
	devFlag := flag.Bool("dev", false, "seed dev accounts at startup")
	dbHost := flag.String("database-host", "", "override database host")
	rpcPort := flag.Int("rpc-port", 0, "override rpc port")
	chainEndpoint := flag.String("chain-endpoint", "", "override chain websocket endpoint")
	flag.Parse()

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
	if *dbHost != "" {
		Cfg.Database.Host = *dbHost
	}
	if *rpcPort != 0 {
		Cfg.RPC.Port = *rpcPort
	}
	if *chainEndpoint != "" {
		Cfg.Chain.Endpoint = *chainEndpoint
	}
	if *devFlag {
		Cfg.RPC.Dev = true
	}

	logger.Info("starting oracle")

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	var dbCfg postgres.Config
	if err := copier.Copy(&dbCfg, &Cfg.Database); err != nil {
		return fmt.Errorf("failed to copy database config: %w", err)
	}
	if Cfg.Database.EncryptionKeyHex != "" {
		key, err := hex.DecodeString(Cfg.Database.EncryptionKeyHex)
		if err != nil {
			return fmt.Errorf("failed to decode database encryption key: %w", err)
		}
		dbCfg.EncryptionKey = key
	}
	store, err := postgres.NewStore(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database connection: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if Cfg.RPC.Dev {
		if err := bootstrap.Seed(context.Background(), store, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to seed dev accounts: %w", err)
		}
	}

	proc := processor.New(store, store)

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

	watcher := chain.NewWatcher(chainClient, proc, store, func(ctx context.Context, outcome chain.Outcome) error {
		data, err := chain.MarshalOutcome(outcome)
		if err != nil {
			return fmt.Errorf("failed to marshal finality outcome: %w", err)
		}
		_, err = queue.Publish(ctx, finalityStream, data)
		return err
	})

	service, err := rpc.NewService(proc, store, store, submitter, Cfg.Chain.OCWSignerHex)
	if err != nil {
		return fmt.Errorf("failed to construct rpc service: %w", err)
	}

	server, err := rpc.NewServer(fmt.Sprintf(":%d", Cfg.RPC.Port), service)
	if err != nil {
		return fmt.Errorf("failed to construct rpc server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Run(gctx) })
	group.Go(func() error { return watcher.Run(gctx) })

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-gctx.Done():
	}

	cancel()
	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Error("oracle exited with error")
		return err
	}

	logger.Info("oracle shut down gracefully")
	return nil
}
