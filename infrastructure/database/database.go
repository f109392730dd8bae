package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"faceforward/domain/models"
	"faceforward/pkg/config"
	"faceforward/pkg/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// sqlitePragmas are applied on every pooled connection. busy_timeout comes
// first so the journal_mode switch waits for other processes.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"

// SQLiteDSN builds the DSN for a database file with the required pragmas.
func SQLiteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + sqlitePragmas
}

func PostgresDSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode)
}

func NewDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	level := gormlogger.Warn
	if cfg.LogQueries {
		level = gormlogger.Info
	}
	gormConfig := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		dialector = sqlite.Open(SQLiteDSN(cfg.Path))
	case DriverPostgres:
		dialector = postgres.Open(PostgresDSN(cfg))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// One writer per process; other processes are arbitrated by WAL + busy_timeout.
		sqlDB.SetMaxOpenConns(1)
		if err := ensureWAL(db); err != nil {
			sqlDB.Close()
			return nil, err
		}
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	logger.DB("database_connected", "Database connected", map[string]interface{}{"driver": cfg.Driver})
	return db, nil
}

// ensureWAL fails unless the database really runs in write-ahead mode.
// Watcher inserts and worker updates run concurrently from separate processes.
func ensureWAL(db *gorm.DB) error {
	mode, err := JournalMode(db)
	if err != nil {
		return fmt.Errorf("failed to read journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("sqlite journal mode is %q, wal is required", mode)
	}
	return nil
}

func JournalMode(db *gorm.DB) (string, error) {
	var mode string
	if err := db.Raw("PRAGMA journal_mode").Row().Scan(&mode); err != nil {
		return "", err
	}
	return mode, nil
}

func Migrate(db *gorm.DB) error {
	if db.Dialector.Name() == DriverPostgres {
		// Enable pgvector extension for face embeddings
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("failed to enable pgvector extension: %w", err)
		}
	}

	if err := db.AutoMigrate(
		&models.Photo{},
		&models.Person{},
		&models.PersonEmbedding{},
		&models.Face{},
		&models.CloudObject{},
		&models.SyncRun{},
	); err != nil {
		return fmt.Errorf("failed to run auto migrations: %w", err)
	}

	// Claim scans walk pending rows in id order
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_photos_status_id ON photos(status, id)").Error; err != nil {
		return fmt.Errorf("failed to create status index: %w", err)
	}

	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
