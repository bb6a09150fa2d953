package hydra

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hydra.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "HS256", cfg.Auth.JWTAlgorithm)
	assert.Equal(t, 24, cfg.Auth.JWTExpirationHours)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout.Duration)
	assert.Equal(t, "hydra", cfg.MongoDB.Database)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
[server]
port = "9090"
read_only = true
shutdown_timeout = "12s"

[store]
backend = "postgres"

[postgres]
dsn = "postgres://hydra@localhost/hydra"

[auth]
jwt_secret = "from-file"
jwt_expiration_hours = 2

[log]
level = "debug"
format = "console"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.Server.ReadOnly)
	assert.Equal(t, 12*time.Second, cfg.Server.ShutdownTimeout.Duration)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://hydra@localhost/hydra", cfg.Postgres.DSN)
	assert.Equal(t, 2, cfg.Auth.JWTExpirationHours)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, "http://localhost:5173", cfg.Server.FrontendURL)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[store]
backend = "postgres"

[auth]
jwt_secret = "from-file"
`)
	t.Setenv("STORE_BACKEND", "surrealdb")
	t.Setenv("SURREALDB_URL", "ws://surreal:8000/rpc")
	t.Setenv("SURREALDB_PASS", "root")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("JWT_EXPIRATION_HOURS", "6")
	t.Setenv("PORT", "7000")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSurrealDB, cfg.Store.Backend)
	assert.Equal(t, "ws://surreal:8000/rpc", cfg.SurrealDB.URL)
	assert.Equal(t, "root", cfg.SurrealDB.Pass)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 6, cfg.Auth.JWTExpirationHours)
	assert.Equal(t, "7000", cfg.Server.Port)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `[server`))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "[server]\nshutdown_timeout = \"soon\"\n"))
	assert.Error(t, err)

	t.Setenv("JWT_EXPIRATION_HOURS", "many")
	_, err = LoadConfig("")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Auth.JWTSecret = "secret"
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"unknown backend":   func(c *Config) { c.Store.Backend = "sqlite" },
		"mongo without uri": func(c *Config) { c.Store.Backend = BackendMongo },
		"postgres no dsn":   func(c *Config) { c.Store.Backend = BackendPostgres },
		"surreal no url": func(c *Config) {
			c.Store.Backend = BackendSurrealDB
			c.SurrealDB.URL = ""
		},
		"empty jwt secret":  func(c *Config) { c.Auth.JWTSecret = "" },
		"non hmac alg":      func(c *Config) { c.Auth.JWTAlgorithm = "RS256" },
		"unknown auth mode": func(c *Config) { c.Auth.Mode = "oauth" },
		"zero expiration":   func(c *Config) { c.Auth.JWTExpirationHours = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	dev := DefaultConfig()
	dev.Auth.Mode = AuthModeDev
	assert.NoError(t, dev.Validate(), "dev mode needs no secret")
}

func TestAllowedOrigins(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.AllowedOrigins())

	cfg.Server.FrontendURL = "https://notes.example.com"
	assert.Equal(t, []string{"https://notes.example.com", "http://localhost:5173"}, cfg.AllowedOrigins())
}

func TestConfigRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = "secret"
	cfg.Postgres.DSN = "postgres://user:pw@db/hydra"

	r := cfg.Redacted()
	assert.Equal(t, "********", r.Auth.JWTSecret)
	assert.Equal(t, "********", r.Postgres.DSN)
	assert.Empty(t, r.MongoDB.URI)
	assert.Equal(t, "secret", cfg.Auth.JWTSecret, "original is unchanged")

	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf))
	var back Config
	_, err := toml.Decode(buf.String(), &back)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, back.Server.ShutdownTimeout.Duration)
	assert.NotContains(t, buf.String(), `"secret"`)
	assert.NotContains(t, buf.String(), "pw@db")
}
