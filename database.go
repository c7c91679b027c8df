package main

import (
	"fmt"
	"net/url"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DatabaseConfig describes the call-history database connection.
//
// Sqlite needs only the driver; without a name it runs in memory.
// Postgresql needs the full set of connection fields.
type DatabaseConfig struct {
	Name     string
	Schema   string
	Driver   string
	Username string
	Password string
	Host     string
	Port     string
}

// ParseConnectionString turns a database URL into a DatabaseConfig.
// "file:..." selects sqlite; postgres:// and postgresql:// select
// Postgresql.
func ParseConnectionString(connStr string) (DatabaseConfig, error) {
	if strings.HasPrefix(connStr, "file:") {
		parts := strings.SplitN(connStr[5:], "?", 2)
		return DatabaseConfig{
			Name:   parts[0],
			Driver: "sqlite",
		}, nil
	}

	parsedURL, err := url.Parse(connStr)
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid connection string: %w", err)
	}
	if parsedURL.Scheme != "postgres" && parsedURL.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}

	username := ""
	password := ""
	if user := parsedURL.User; user != nil {
		username = user.Username()
		password, _ = user.Password()
	}

	port := parsedURL.Port()
	if port == "" {
		port = "5432"
	}

	return DatabaseConfig{
		Name:     strings.TrimPrefix(parsedURL.Path, "/"),
		Schema:   parsedURL.Query().Get("search_path"),
		Driver:   "postgres",
		Username: username,
		Password: password,
		Host:     parsedURL.Hostname(),
		Port:     port,
	}, nil
}

// ConnectToDB opens a gorm connection for the configured driver.
func ConnectToDB(cnf DatabaseConfig) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch cnf.Driver {
	case "postgres":
		dsn := fmt.Sprintf(
			"user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
			cnf.Username, cnf.Password, cnf.Host, cnf.Port, cnf.Name,
		)
		if cnf.Schema != "" {
			dsn = fmt.Sprintf("%s search_path=%s", dsn, cnf.Schema)
		}
		dial = postgres.Open(dsn)
	case "sqlite", "":
		dsn := "file::memory:?cache=shared"
		if cnf.Name != "" {
			dsn = fmt.Sprintf("file:%s?cache=shared", cnf.Name)
		}
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cnf.Driver)
	}

	conf := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	if cnf.Schema != "" {
		conf.NamingStrategy = schema.NamingStrategy{TablePrefix: cnf.Schema + "."}
	}
	return gorm.Open(dial, conf)
}
