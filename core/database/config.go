package database

import "fmt"

// Config holds postgres connection settings.
type Config struct {
	Host           string `yaml:"host" envconfig:"HOST"`
	Port           string `yaml:"port" envconfig:"PORT"`
	User           string `yaml:"user" envconfig:"USER"`
	Password       string `yaml:"password" envconfig:"PASSWORD"`
	Name           string `yaml:"name" envconfig:"NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"MAX_CONNECTIONS"`

	// WaitSeconds makes startup wait for the server to accept connections; 0 disables waiting.
	WaitSeconds int `yaml:"wait_seconds" envconfig:"WAIT_SECONDS"`

	// MigrationsDir points at the golang-migrate source directory; relative paths resolve against the working directory.
	MigrationsDir string `yaml:"migrations_dir" envconfig:"MIGRATIONS_DIR"`
}

// KeywordDSN renders the lib/pq keyword/value connection string.
func (c Config) KeywordDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// URL renders the postgres:// form expected by golang-migrate.
func (c Config) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}
