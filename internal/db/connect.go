// Package db opens the run database and manages its schema.
package db

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/xpdacq/xpdacq/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN for the configured server and database.
func DSN(c config.RunDBConfig) string {
	mc := mysqldrv.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.Database
	mc.ParseTime = true
	return mc.FormatDSN()
}

// Connect opens a GORM connection to the configured run database. A sqlite
// file's parent directory is created if needed.
func Connect(c config.RunDBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch c.Driver {
	case "sqlite":
		if c.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
				return nil, fmt.Errorf("db: create %s: %w", filepath.Dir(c.Path), err)
			}
		}
		dialector = sqlite.Open(c.Path)
	case "mysql":
		dialector = mysql.Open(DSN(c))
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", c.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s: %w", Describe(c), err)
	}
	return db, nil
}

// ConnectAdmin opens a GORM connection to the MySQL server without selecting
// a database, used for CREATE DATABASE operations.
func ConnectAdmin(c config.RunDBConfig) (*gorm.DB, error) {
	c.Database = ""
	db, err := gorm.Open(mysql.Open(DSN(c)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s: %w", net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), err)
	}
	return db, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}

// Init prepares the configured database: for MySQL the database itself is
// created first, then the schema is migrated.
func Init(c config.RunDBConfig) (*gorm.DB, error) {
	if c.Driver == "mysql" {
		admin, err := ConnectAdmin(c)
		if err != nil {
			return nil, err
		}
		err = CreateDatabase(admin, c.Database)
		if sqlDB, e := admin.DB(); e == nil {
			sqlDB.Close()
		}
		if err != nil {
			return nil, err
		}
	}
	db, err := Connect(c)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Describe names the database c points at, without credentials.
func Describe(c config.RunDBConfig) string {
	if c.Driver == "sqlite" {
		return "sqlite " + c.Path
	}
	return fmt.Sprintf("mysql %s/%s", net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Database)
}
