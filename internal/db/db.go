package db

import (
	"log"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open picks the MySQL driver for "user:pass@tcp(host)/db" style DSNs and the
// pure-Go SQLite driver for everything else.
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if IsMySQL(dsn) {
		return gorm.Open(mysql.Open(dsn), cfg)
	}
	return gorm.Open(gormsqlite.Open(dsn), cfg)
}

func IsMySQL(dsn string) bool {
	return strings.Contains(dsn, "@tcp(") || strings.Contains(dsn, "@unix(")
}

func Connect(dsn string) *gorm.DB {
	gdb, err := Open(dsn)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	return gdb
}
