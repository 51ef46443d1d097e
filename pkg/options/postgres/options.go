// Package postgres provides PostgreSQL connection options for the pgvector store.
package postgres

import (
	"fmt"
	"os"
	"time"

	"github.com/kart-io/medrag/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options defines configuration options for PostgreSQL.
type Options struct {
	// DSN overrides the individual connection fields when set.
	DSN                   string        `json:"-" mapstructure:"dsn"`
	Host                  string        `json:"host" mapstructure:"host"`
	Port                  int           `json:"port" mapstructure:"port"`
	Username              string        `json:"username" mapstructure:"username"`
	Password              string        `json:"-" mapstructure:"password"`
	Database              string        `json:"database" mapstructure:"database"`
	SSLMode               string        `json:"ssl-mode" mapstructure:"ssl-mode"`
	MaxIdleConnections    int           `json:"max-idle-connections" mapstructure:"max-idle-connections"`
	MaxOpenConnections    int           `json:"max-open-connections" mapstructure:"max-open-connections"`
	MaxConnectionLifeTime time.Duration `json:"max-connection-life-time" mapstructure:"max-connection-life-time"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Host:                  "127.0.0.1",
		Port:                  5432,
		Username:              "postgres",
		Database:              "medrag",
		SSLMode:               "disable",
		MaxIdleConnections:    5,
		MaxOpenConnections:    20,
		MaxConnectionLifeTime: 10 * time.Minute,
	}
}

// ConnString returns the lib/pq connection string.
func (o *Options) ConnString() string {
	if o.DSN != "" {
		return o.DSN
	}
	sslmode := o.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		o.Host, o.Port, o.Username, o.Password, o.Database, sslmode)
}

// Complete reads the password from POSTGRES_PASSWORD when it is not configured.
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("POSTGRES_PASSWORD")
	}
	return nil
}

// Validate checks if the options are valid.
func (o *Options) Validate() []error {
	if o == nil || o.DSN != "" {
		return nil
	}

	var errs []error
	if o.Host == "" {
		errs = append(errs, fmt.Errorf("postgres.host is required"))
	}
	if o.Port <= 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("postgres.port %d is out of range", o.Port))
	}
	if o.Database == "" {
		errs = append(errs, fmt.Errorf("postgres.database is required"))
	}
	return errs
}

// AddFlags adds flags for PostgreSQL options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.DSN, p+"postgres.dsn", o.DSN, "PostgreSQL DSN, overrides the individual fields")
	fs.StringVar(&o.Host, p+"postgres.host", o.Host, "PostgreSQL host")
	fs.IntVar(&o.Port, p+"postgres.port", o.Port, "PostgreSQL port")
	fs.StringVar(&o.Username, p+"postgres.username", o.Username, "PostgreSQL username")
	fs.StringVar(&o.Password, p+"postgres.password", o.Password, "PostgreSQL password (prefer POSTGRES_PASSWORD)")
	fs.StringVar(&o.Database, p+"postgres.database", o.Database, "PostgreSQL database")
	fs.StringVar(&o.SSLMode, p+"postgres.ssl-mode", o.SSLMode, "PostgreSQL SSL mode")
	fs.IntVar(&o.MaxIdleConnections, p+"postgres.max-idle-connections", o.MaxIdleConnections, "PostgreSQL max idle connections")
	fs.IntVar(&o.MaxOpenConnections, p+"postgres.max-open-connections", o.MaxOpenConnections, "PostgreSQL max open connections")
	fs.DurationVar(&o.MaxConnectionLifeTime, p+"postgres.max-connection-life-time", o.MaxConnectionLifeTime, "PostgreSQL max connection life time")
}
