package database

import (
	"errors"
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// queryOnlyPragma keeps the connection from ever writing to an imported collection.
const queryOnlyPragma = "_pragma=query_only(1)"

// Collection is a read-only handle over a materialized collection database.
type Collection struct {
	DB   *gorm.DB
	path string
}

// OpenCollection opens the SQLite file at path for read-only querying.
func OpenCollection(path string, logger *zap.Logger) (*Collection, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path+"?"+queryOnlyPragma), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	var tableCount int64
	if err := db.Raw("SELECT count(*) FROM sqlite_master").Scan(&tableCount).Error; err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("read schema: %w", err)
	}

	if logger != nil {
		logger.Debug("collection database opened", zap.String("path", path))
	}

	return &Collection{DB: db, path: path}, nil
}

// Path returns the file backing the collection.
func (c *Collection) Path() string {
	if c == nil {
		return ""
	}
	return c.path
}

// Close releases the underlying connection pool.
func (c *Collection) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil && !errors.Is(err, gorm.ErrInvalidDB) {
		return err
	}
	return nil
}
