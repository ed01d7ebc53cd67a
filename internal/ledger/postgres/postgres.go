// Package postgres implements the ledger.BankAccountStore and
// ledger.TransactionStore ports against PostgreSQL via pgx.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pcidss-oracle/internal/ledger"
	"pcidss-oracle/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type Config struct {
	Host            string
	Port            string
	User            string
	Password        string
	DB              string
	SslMode         string
	MaxConns        int
	MinConns        int
	MaxConnLifetime int
	MaxConnIdleTime int

	// EncryptionKey is the AES-256 key used to encrypt card_cvv at rest.
	// card_number stays plaintext because FindByCardNumber looks it up by
	// equality; CVV is never looked up, only compared after decryption.
	EncryptionKey []byte
}

// Store wraps a pgxpool.Pool and implements ledger.BankAccountStore,
// ledger.TransactionStore, and ledger.AtomicLedger. The account/transaction
// method sets are promoted from the embedded pool-scoped stores.
type Store struct {
	pool          *pgxpool.Pool
	migrationPath string
	*accountStore
	*transactionStore
}

func NewStore(cfg Config) (*Store, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DB, cfg.SslMode)
	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		logger.Error("Failed to parse connection config", zap.Error(err))
		return nil, err
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = time.Duration(cfg.MaxConnLifetime) * time.Minute
	poolCfg.MaxConnIdleTime = time.Duration(cfg.MaxConnIdleTime) * time.Minute

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("Failed to create db connection pool", zap.Error(err))
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("Database ping failed", zap.Error(err))
		return nil, err
	}

	logger.Info("Database connection pool created successfully")

	return &Store{
		pool:             pool,
		migrationPath:    "file://internal/ledger/migrations",
		accountStore:     &accountStore{db: pool, encryptionKey: cfg.EncryptionKey},
		transactionStore: &transactionStore{db: pool},
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations uses golang-migrate to create the bank_account and
// bank_transaction tables.
func (s *Store) RunMigrations() error {
	connStr := s.pool.Config().ConnString()
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		logger.Error("Failed to open sql.DB for migrations", zap.Error(err))
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer sqlDB.Close()

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		logger.Error("Failed to create postgres driver", zap.Error(err))
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(s.migrationPath, "postgres", driver)
	if err != nil {
		logger.Error("Failed to create migrate instance", zap.Error(err))
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	logger.Info("Running database migrations...")
	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			logger.Info("No new migrations to apply")
			return nil
		}
		logger.Error("Migration failed", zap.Error(err))
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		logger.Error("Failed to get migration version", zap.Error(err))
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		logger.Error("Database is in dirty state", zap.Uint("version", version))
		return fmt.Errorf("database is in dirty state at version %d", version)
	}

	logger.Info("Migrations completed successfully", zap.Uint("version", version))
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		logger.Info("Closing database connection pool")
		s.pool.Close()
	}
}

// WithinLedgerTx runs fn with stores scoped to a single pgx transaction,
// committing on success and rolling back on error or panic. This is the
// resolution to the "no transactional boundary" open question: both
// balance updates and the transaction insert of an authorization run
// against the same tx.
func (s *Store) WithinLedgerTx(ctx context.Context, fn func(ctx context.Context, accounts ledger.BankAccountStore, transactions ledger.TransactionStore) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	scopedAccounts := &accountStore{db: tx, encryptionKey: s.accountStore.encryptionKey}
	scopedTransactions := &transactionStore{db: tx}

	if err := fn(ctx, scopedAccounts, scopedTransactions); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
