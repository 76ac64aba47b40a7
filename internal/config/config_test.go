package config

import (
	"net/url"
	"testing"
	"time"

	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/types"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("STARKNET_RPC_PRIMARY", "http://node.test")
	t.Setenv("PRICE_WINDOW_DAYS", "7")
	t.Setenv("EVENT_API_MODE", "per_pool")
	t.Setenv("PRICE_CACHE_TTL", "30s")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Starknet.RPCPrimary != "http://node.test" {
		t.Errorf("Starknet.RPCPrimary = %v, want %v", cfg.Starknet.RPCPrimary, "http://node.test")
	}
	if cfg.Prices.WindowDays != 7 {
		t.Errorf("Prices.WindowDays = %v, want %v", cfg.Prices.WindowDays, 7)
	}
	if cfg.EventAPI.Mode != types.EventSourcePerPool {
		t.Errorf("EventAPI.Mode = %v, want %v", cfg.EventAPI.Mode, types.EventSourcePerPool)
	}
	if cfg.Prices.CacheTTL != 30*time.Second {
		t.Errorf("Prices.CacheTTL = %v, want %v", cfg.Prices.CacheTTL, 30*time.Second)
	}
	if !cfg.Database.Redis.Enabled {
		t.Errorf("Database.Redis.Enabled = false, want true")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Prices.WindowDays != 14 {
		t.Errorf("Prices.WindowDays = %v, want 14", cfg.Prices.WindowDays)
	}
	if cfg.EventAPI.Mode != types.EventSourceGlobal {
		t.Errorf("EventAPI.Mode = %v, want global", cfg.EventAPI.Mode)
	}
	if cfg.Database.Postgres.Enabled || cfg.S3.Enabled {
		t.Errorf("optional sinks should default to disabled")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Starknet: StarknetConfig{RPCPrimary: "http://node"},
			EventAPI: EventAPIConfig{Mode: types.EventSourceGlobal},
			Prices:   PricesConfig{WindowDays: 14},
			Output:   OutputConfig{JSONPath: "out.json"},
			Run:      RunConfig{MaxConcurrency: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing rpc", mutate: func(c *Config) { c.Starknet.RPCPrimary = "" }, wantErr: true},
		{name: "zero window", mutate: func(c *Config) { c.Prices.WindowDays = 0 }, wantErr: true},
		{name: "unknown mode", mutate: func(c *Config) { c.EventAPI.Mode = "stream" }, wantErr: true},
		{name: "no output path", mutate: func(c *Config) { c.Output.JSONPath = "" }, wantErr: true},
		{name: "zero concurrency", mutate: func(c *Config) { c.Run.MaxConcurrency = 0 }, wantErr: true},
		{name: "s3 without bucket", mutate: func(c *Config) { c.S3.Enabled = true }, wantErr: true},
		{name: "s3 with bucket", mutate: func(c *Config) { c.S3 = S3Config{Enabled: true, Bucket: "b", Key: "k"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperrors.HasCode(err, apperrors.CodeInvalidConfig) {
				t.Errorf("Validate() error code = %v, want %s", err, apperrors.CodeInvalidConfig)
			}
		})
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5432", Database: "pm", User: "u", Password: "p"}
	want := "postgres://u:p@db:5432/pm?sslmode=disable"
	if got := cfg.URL(); got != want {
		t.Errorf("URL() = %v, want %v", got, want)
	}
}

func TestPostgresURLEscapesCredentials(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5432", Database: "pm", User: "metrics", Password: "p@ss/w#rd"}

	u, err := url.Parse(cfg.URL())
	if err != nil {
		t.Fatalf("URL() is not parseable: %v", err)
	}
	if u.Hostname() != "db" || u.Port() != "5432" {
		t.Errorf("host = %q port = %q, want db:5432", u.Hostname(), u.Port())
	}
	if got, _ := u.User.Password(); got != "p@ss/w#rd" {
		t.Errorf("password = %q, want %q", got, "p@ss/w#rd")
	}
	if u.User.Username() != "metrics" {
		t.Errorf("user = %q, want metrics", u.User.Username())
	}
	if u.Path != "/pm" {
		t.Errorf("path = %q, want /pm", u.Path)
	}
	if u.Query().Get("sslmode") != "disable" {
		t.Errorf("sslmode = %q, want disable", u.Query().Get("sslmode"))
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "200")
	t.Setenv("TEST_INT_INVALID", "invalid")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_DURATION", "45s")

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"int when valid", getEnvAsInt("TEST_INT", 100), 200},
		{"int default when invalid", getEnvAsInt("TEST_INT_INVALID", 100), 100},
		{"int default when unset", getEnvAsInt("TEST_INT_NOTSET", 100), 100},
		{"float", getEnvAsFloat("TEST_FLOAT", 1), 0.25},
		{"bool", getEnvAsBool("TEST_BOOL", false), true},
		{"bool default", getEnvAsBool("TEST_BOOL_NOTSET", false), false},
		{"duration", getEnvAsDuration("TEST_DURATION", time.Second), 45 * time.Second},
		{"string default", getEnv("TEST_STRING_NOTSET", "default"), "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}
