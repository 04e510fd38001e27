package db

import (
	stdlog "log"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenSQLite открывает встраиваемую SQLite через gorm. path ":memory:" создаёт базу в памяти.
func OpenSQLite(path string, logger zerolog.Logger) (*gorm.DB, error) {
	writer := stdlog.New(logger.With().Str("component", "gorm").Logger(), "", 0)
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.New(writer, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	// SQLite сериализует запись, а база в памяти живёт только в одном соединении.
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}
