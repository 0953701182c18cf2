// Package ormx opens the gorm handle for whichever database the deployment
// uses. sqlite is the zero-config default, mysql and postgres are for real
// installs.
package ormx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	tklog "github.com/toolkits/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

type DBConfig struct {
	Debug        bool
	DBType       string
	DSN          string
	MaxLifetime  int
	MaxOpenConns int
	MaxIdleConns int
	TablePrefix  string
}

// dbLogger routes gorm output into the process logger. Normal statements
// stay quiet, slow queries warn, failures error.
type dbLogger struct {
	level logger.LogLevel
	slow  time.Duration
}

func (l dbLogger) LogMode(level logger.LogLevel) logger.Interface {
	l.level = level
	return l
}

func (l dbLogger) Info(_ context.Context, s string, args ...interface{}) {
	if l.level >= logger.Info {
		tklog.Infof(s, args...)
	}
}

func (l dbLogger) Warn(_ context.Context, s string, args ...interface{}) {
	if l.level >= logger.Warn {
		tklog.Warningf(s, args...)
	}
}

func (l dbLogger) Error(_ context.Context, s string, args ...interface{}) {
	if l.level >= logger.Error {
		tklog.Errorf(s, args...)
	}
}

func (l dbLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		sql, rows := fc()
		tklog.Errorf("sql failed: %v, sql: %s, rows: %d, took: %s", err, sql, rows, elapsed)
	case l.slow > 0 && elapsed > l.slow && l.level >= logger.Warn:
		sql, rows := fc()
		tklog.Warningf("slow sql: %s, rows: %d, took: %s", sql, rows, elapsed)
	case l.level >= logger.Info:
		sql, rows := fc()
		tklog.Debugf("sql: %s, rows: %d, took: %s", sql, rows, elapsed)
	}
}

// New opens the database and sets the pool limits. sqlite keeps the driver
// defaults, pool tuning only makes sense for a server database.
func New(c DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	pooled := true

	switch strings.ToLower(c.DBType) {
	case "mysql":
		dialector = mysql.Open(c.DSN)
	case "postgres":
		dialector = postgres.Open(c.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(c.DSN)
		pooled = false
	default:
		return nil, fmt.Errorf("unsupported db type %q", c.DBType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   c.TablePrefix,
			SingularTable: true,
		},
		Logger: dbLogger{level: logger.Warn, slow: 2 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if c.Debug {
		db = db.Debug()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if pooled {
		sqlDB.SetMaxIdleConns(c.MaxIdleConns)
		sqlDB.SetMaxOpenConns(c.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Duration(c.MaxLifetime) * time.Second)
	}

	return db, nil
}
