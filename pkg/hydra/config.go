package hydra

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hydranotes/hydra/pkg/identity"
	"github.com/joho/godotenv"
)

// DefaultConfigPath is read when --config is not given. A missing default file is not
// an error; a missing explicit one is.
const DefaultConfigPath = "hydra.toml"

// Store backends.
const (
	BackendMemory    = "memory"
	BackendMongo     = "mongo"
	BackendPostgres  = "postgres"
	BackendSurrealDB = "surrealdb"
)

// Auth modes.
const (
	AuthModeJWT = "jwt"
	AuthModeDev = "dev"
)

// Config holds application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	MongoDB   MongoDBConfig   `toml:"mongodb"`
	Postgres  PostgresConfig  `toml:"postgres"`
	SurrealDB SurrealDBConfig `toml:"surrealdb"`
	Auth      AuthConfig      `toml:"auth"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Port        string `toml:"port"`
	FrontendURL string `toml:"frontend_url"`
	// ReadOnly rejects every write with 503 while set.
	ReadOnly        bool     `toml:"read_only"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type StoreConfig struct {
	Backend string `toml:"backend"` // memory, mongo, postgres or surrealdb
}

type MongoDBConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
	// Transactions needs a replica set.
	Transactions bool `toml:"transactions"`
}

type PostgresConfig struct {
	DSN string `toml:"dsn"`
}

type SurrealDBConfig struct {
	URL       string `toml:"url"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	User      string `toml:"user"`
	Pass      string `toml:"pass"`
}

type AuthConfig struct {
	Mode               string `toml:"mode"` // jwt or dev
	JWTSecret          string `toml:"jwt_secret"`
	JWTAlgorithm       string `toml:"jwt_algorithm"`
	JWTExpirationHours int    `toml:"jwt_expiration_hours"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Path   string `toml:"path"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a string such as "5s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			FrontendURL:     "http://localhost:5173",
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Store:   StoreConfig{Backend: BackendMemory},
		MongoDB: MongoDBConfig{Database: "hydra"},
		SurrealDB: SurrealDBConfig{
			URL:       "ws://localhost:8000/rpc",
			Namespace: "hydra",
			Database:  "hydra",
		},
		Auth: AuthConfig{
			Mode:               AuthModeJWT,
			JWTAlgorithm:       "HS256",
			JWTExpirationHours: 24,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig builds the effective configuration: defaults, then the TOML file at path,
// then environment variables. A .env file in the working directory is loaded into the
// environment first when present. An empty path means DefaultConfigPath.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.FrontendURL = getEnv("FRONTEND_URL", c.Server.FrontendURL)
	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.MongoDB.URI = getEnv("MONGODB_URI", c.MongoDB.URI)
	c.MongoDB.Database = getEnv("MONGODB_DATABASE", c.MongoDB.Database)
	c.Postgres.DSN = getEnv("POSTGRES_DSN", c.Postgres.DSN)
	c.SurrealDB.URL = getEnv("SURREALDB_URL", c.SurrealDB.URL)
	c.SurrealDB.Namespace = getEnv("SURREALDB_NS", c.SurrealDB.Namespace)
	c.SurrealDB.Database = getEnv("SURREALDB_DB", c.SurrealDB.Database)
	c.SurrealDB.User = getEnv("SURREALDB_USER", c.SurrealDB.User)
	c.SurrealDB.Pass = getEnv("SURREALDB_PASS", c.SurrealDB.Pass)
	c.Auth.Mode = getEnv("AUTH_MODE", c.Auth.Mode)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTAlgorithm = getEnv("JWT_ALGORITHM", c.Auth.JWTAlgorithm)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	if v := os.Getenv("JWT_EXPIRATION_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid JWT_EXPIRATION_HOURS %q: %w", v, err)
		}
		c.Auth.JWTExpirationHours = hours
	}
	return nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendMongo:
		if c.MongoDB.URI == "" {
			return errors.New("mongodb.uri is required for the mongo backend")
		}
		if c.MongoDB.Database == "" {
			return errors.New("mongodb.database is required for the mongo backend")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres backend")
		}
	case BackendSurrealDB:
		if c.SurrealDB.URL == "" {
			return errors.New("surrealdb.url is required for the surrealdb backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q (must be memory, mongo, postgres or surrealdb)", c.Store.Backend)
	}

	switch c.Auth.Mode {
	case AuthModeDev:
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is required in jwt mode")
		}
	default:
		return fmt.Errorf("unknown auth mode %q (must be jwt or dev)", c.Auth.Mode)
	}
	if !identity.IsHMAC(c.Auth.JWTAlgorithm) {
		return fmt.Errorf("unsupported jwt algorithm %q", c.Auth.JWTAlgorithm)
	}
	if c.Auth.JWTExpirationHours <= 0 {
		return errors.New("auth.jwt_expiration_hours must be positive")
	}
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	return nil
}

// AllowedOrigins is the CORS allow-list: the configured frontend plus the local
// development server.
func (c *Config) AllowedOrigins() []string {
	const devOrigin = "http://localhost:5173"
	if c.Server.FrontendURL == "" || c.Server.FrontendURL == devOrigin {
		return []string{devOrigin}
	}
	return []string{c.Server.FrontendURL, devOrigin}
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	r := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	r.Auth.JWTSecret = mask(r.Auth.JWTSecret)
	r.SurrealDB.Pass = mask(r.SurrealDB.Pass)
	r.Postgres.DSN = mask(r.Postgres.DSN)
	r.MongoDB.URI = mask(r.MongoDB.URI)
	return &r
}

// Write encodes the config as TOML.
func (c *Config) Write(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// getEnv retrieves an environment variable, treating an empty value as unset.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
