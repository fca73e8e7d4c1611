// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping for SQLite (pure
// Go driver, used in development and tests) and MySQL (production), plus
// schema migrations.
//
// All repository functions are free functions taking a context and a
// *gorm.DB, so they run unchanged inside a service transaction.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/marja-chat-backend/internal/config"
	"github.com/tbourn/marja-chat-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate is returned when an insert or update hits a unique index.
var ErrDuplicate = errors.New("duplicate")

// slowQueryThreshold is the latency above which queries are logged at warn.
const slowQueryThreshold = 250 * time.Millisecond

// Open connects to the configured database, installs the tracing plugin and
// sizes the connection pool. It does not migrate.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case config.DriverMySQL:
		db, err = OpenMySQL(cfg)
	case config.DriverSQLite, "":
		db, err = OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, fmt.Errorf("install tracing plugin: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		n := cfg.MaxOpenConns
		if n < 1 {
			n = 10
		}
		sqlDB.SetMaxOpenConns(n)
		sqlDB.SetMaxIdleConns(n)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database. path may be a plain file
// path or a "file:" URI; foreign keys, WAL, a normal sync level and a 5s
// busy timeout are enabled on every pooled connection. Transactions begin
// IMMEDIATE, so a read-then-write transaction waits for the write lock up
// front instead of failing on upgrade.
func OpenSQLite(path string) (*gorm.DB, error) {
	if !strings.HasPrefix(path, "file:") {
		// Fail early if the parent directory is missing instead of surfacing
		// an opaque sqlite "out of memory (14)".
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}
	return gorm.Open(sqlite.Open(sqliteDSN(path)), gormConfig())
}

// OpenMySQL opens a MySQL database from discrete connection settings.
// ClientFoundRows makes RowsAffected count matched rows, as SQLite does.
func OpenMySQL(cfg config.DBConfig) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(MySQLDSN(cfg)), gormConfig())
}

// MySQLDSN renders the go-sql-driver DSN for cfg.
func MySQLDSN(cfg config.DBConfig) string {
	mc := mysqldriver.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Addr()
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.ClientFoundRows = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

func sqliteDSN(path string) string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return path + "?" + pragmas
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger: logger.New(gormLogWriter{}, logger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

// gormLogWriter routes GORM's slow-query and error lines into zerolog.
type gormLogWriter struct{}

func (gormLogWriter) Printf(format string, args ...interface{}) {
	log.Warn().Str("component", "gorm").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// AutoMigrate creates or updates every table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.Report{},
		&domain.AdminLog{},
		&domain.TokenPackage{},
		&domain.DiscountCode{},
		&domain.GiftCard{},
		&domain.Transaction{},
		&domain.IdempotencyKey{},
		&domain.GiftClaim{},
		&domain.SettingsRecord{},
	)
}

// isDuplicate reports whether err is a unique-constraint violation. The
// string checks cover drivers that bypass error translation.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate entry") ||
		strings.Contains(low, "duplicate key")
}
