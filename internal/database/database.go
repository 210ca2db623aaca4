package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"record-sync-service/internal/config"
	"record-sync-service/internal/logger"
)

// Database wraps the sql handle for the local durable store. Two
// backends: sqlite for single-device installs, mysql for shared-kiosk
// installs where several terminals point at one local server.
type Database struct {
	DB     *sql.DB
	Driver string
}

func Open(cfg config.StorageConfig) (*Database, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case "sqlite":
		dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", cfg.FilePath)
		db, err = sql.Open("sqlite", dsn)
		if err == nil {
			// modernc sqlite serializes writes itself; a single
			// connection avoids SQLITE_BUSY churn under WAL.
			db.SetMaxOpenConns(1)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		db, err = sql.Open("mysql", dsn)
		if err == nil {
			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(time.Hour)
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Log.Info("Connected to local store database",
		zap.String("driver", cfg.Driver),
	)

	return &Database{DB: db, Driver: cfg.Driver}, nil
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// ExecTx executes fn within a transaction, rolling back on error.
func (d *Database) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
