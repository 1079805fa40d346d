// Package config loads service settings from defaults, an optional YAML file,
// the environment and command-line flags, in increasing priority.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
)

// Environment variables carrying secrets.
const (
	EnvJWTKey     = "CLINICKEEPER_JWT_KEY"
	EnvPassphrase = "CLINICKEEPER_PASSPHRASE"
	EnvDSN        = "CLINICKEEPER_DSN"
)

// Config is the complete service configuration.
type Config struct {
	Storage  Storage `yaml:"storage"`
	Server   Server  `yaml:"server"`
	Persist  Persist `yaml:"persist"`
	Location string  `yaml:"location"` // IANA zone of the clinics; "Local" by default
	Dev      bool    `yaml:"dev"`
}

// Storage selects and configures the snapshot backend.
type Storage struct {
	Driver     string `yaml:"driver"`
	Path       string `yaml:"path"` // file and sqlite
	DSN        string `yaml:"dsn"`  // postgres
	Keep       int    `yaml:"keep"` // postgres versions kept, 0 keeps all
	Passphrase string `yaml:"passphrase"`
	S3         S3     `yaml:"s3"`
}

// S3 configures the object storage backend.
type S3 struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Key             string `yaml:"key"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

// Server configures the admin API and metrics listeners.
type Server struct {
	Addr        string        `yaml:"addr"`
	MetricsAddr string        `yaml:"metrics_addr"` // empty disables /metrics
	JWTKey      string        `yaml:"jwt_key"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	TLSCert     string        `yaml:"tls_cert"` // plaintext when empty
	TLSKey      string        `yaml:"tls_key"`
}

// Persist configures autosave.
type Persist struct {
	Interval time.Duration `yaml:"interval"` // periodic autosave
	Throttle time.Duration `yaml:"throttle"` // minimum gap between requested saves
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Storage: Storage{Driver: DriverFile, Path: "db.json", Keep: 10},
		Server: Server{
			Addr:        ":8443",
			MetricsAddr: ":9090",
			TokenTTL:    15 * time.Minute,
		},
		Persist:  Persist{Interval: 5 * time.Minute, Throttle: 50 * time.Second},
		Location: "Local",
	}
}

// LoadFile merges the YAML file at path into cfg.
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides secrets from the environment.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvJWTKey); v != "" {
		cfg.Server.JWTKey = v
	}
	if v := getenv(EnvPassphrase); v != "" {
		cfg.Storage.Passphrase = v
	}
	if v := getenv(EnvDSN); v != "" {
		cfg.Storage.DSN = v
	}
}

// Parse builds the configuration for args (without the program name).
func Parse(name string, args []string) (Config, error) {
	return parse(name, args, os.Getenv)
}

func parse(name string, args []string, getenv func(string) string) (Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var path string
	fs.StringVar(&path, "config", "", "YAML configuration file")
	fl := Default()
	setters := bindFlags(fs, &fl)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg, getenv)
	fs.Visit(func(f *flag.Flag) {
		if set, ok := setters[f.Name]; ok {
			set(&cfg, &fl)
		}
	})
	return cfg, cfg.Validate()
}

type setter func(dst, src *Config)

// bindFlags registers every flag on fl and returns how to copy each one.
func bindFlags(fs *flag.FlagSet, fl *Config) map[string]setter {
	fs.StringVar(&fl.Storage.Driver, "storage", fl.Storage.Driver, "snapshot backend: file|sqlite|postgres|s3")
	fs.StringVar(&fl.Storage.Path, "path", fl.Storage.Path, "snapshot path for file and sqlite backends")
	fs.StringVar(&fl.Storage.DSN, "dsn", fl.Storage.DSN, "PostgreSQL DSN")
	fs.IntVar(&fl.Storage.Keep, "keep", fl.Storage.Keep, "PostgreSQL snapshot versions kept (0 keeps all)")
	fs.StringVar(&fl.Storage.S3.Bucket, "s3-bucket", fl.Storage.S3.Bucket, "S3 bucket")
	fs.StringVar(&fl.Storage.S3.Key, "s3-key", fl.Storage.S3.Key, "S3 object key")
	fs.StringVar(&fl.Storage.S3.Endpoint, "s3-endpoint", fl.Storage.S3.Endpoint, "S3 endpoint (MinIO)")
	fs.StringVar(&fl.Storage.S3.Region, "s3-region", fl.Storage.S3.Region, "S3 region")
	fs.BoolVar(&fl.Storage.S3.PathStyle, "s3-path-style", fl.Storage.S3.PathStyle, "use path-style S3 URLs")
	fs.StringVar(&fl.Server.Addr, "addr", fl.Server.Addr, "admin API listen address")
	fs.StringVar(&fl.Server.MetricsAddr, "metrics-addr", fl.Server.MetricsAddr, "metrics listen address (empty disables)")
	fs.StringVar(&fl.Server.JWTKey, "jwt-key", fl.Server.JWTKey, "HS256 signing key")
	fs.DurationVar(&fl.Server.TokenTTL, "token-ttl", fl.Server.TokenTTL, "admin token TTL")
	fs.StringVar(&fl.Server.TLSCert, "tls-cert", fl.Server.TLSCert, "TLS certificate (PEM)")
	fs.StringVar(&fl.Server.TLSKey, "tls-key", fl.Server.TLSKey, "TLS private key (PEM)")
	fs.DurationVar(&fl.Persist.Interval, "autosave", fl.Persist.Interval, "autosave interval")
	fs.DurationVar(&fl.Persist.Throttle, "save-throttle", fl.Persist.Throttle, "minimum gap between requested saves")
	fs.StringVar(&fl.Location, "location", fl.Location, "time zone of the clinics")
	fs.BoolVar(&fl.Dev, "dev", fl.Dev, "development logging and server reflection")

	return map[string]setter{
		"storage":       func(d, s *Config) { d.Storage.Driver = s.Storage.Driver },
		"path":          func(d, s *Config) { d.Storage.Path = s.Storage.Path },
		"dsn":           func(d, s *Config) { d.Storage.DSN = s.Storage.DSN },
		"keep":          func(d, s *Config) { d.Storage.Keep = s.Storage.Keep },
		"s3-bucket":     func(d, s *Config) { d.Storage.S3.Bucket = s.Storage.S3.Bucket },
		"s3-key":        func(d, s *Config) { d.Storage.S3.Key = s.Storage.S3.Key },
		"s3-endpoint":   func(d, s *Config) { d.Storage.S3.Endpoint = s.Storage.S3.Endpoint },
		"s3-region":     func(d, s *Config) { d.Storage.S3.Region = s.Storage.S3.Region },
		"s3-path-style": func(d, s *Config) { d.Storage.S3.PathStyle = s.Storage.S3.PathStyle },
		"addr":          func(d, s *Config) { d.Server.Addr = s.Server.Addr },
		"metrics-addr":  func(d, s *Config) { d.Server.MetricsAddr = s.Server.MetricsAddr },
		"jwt-key":       func(d, s *Config) { d.Server.JWTKey = s.Server.JWTKey },
		"token-ttl":     func(d, s *Config) { d.Server.TokenTTL = s.Server.TokenTTL },
		"tls-cert":      func(d, s *Config) { d.Server.TLSCert = s.Server.TLSCert },
		"tls-key":       func(d, s *Config) { d.Server.TLSKey = s.Server.TLSKey },
		"autosave":      func(d, s *Config) { d.Persist.Interval = s.Persist.Interval },
		"save-throttle": func(d, s *Config) { d.Persist.Throttle = s.Persist.Throttle },
		"location":      func(d, s *Config) { d.Location = s.Location },
		"dev":           func(d, s *Config) { d.Dev = s.Dev },
	}
}

// Validate checks the storage settings and the time zone.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage %s: path required", c.Storage.Driver)
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage postgres: dsn required")
		}
	case DriverS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage s3: bucket required")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("tls-cert and tls-key must be set together")
	}
	if _, err := c.TimeLocation(); err != nil {
		return err
	}
	return nil
}

// TimeLocation resolves Location.
func (c Config) TimeLocation() (*time.Location, error) {
	if c.Location == "" || c.Location == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return nil, fmt.Errorf("location %q: %w", c.Location, err)
	}
	return loc, nil
}
