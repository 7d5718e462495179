// Package config loads gateway configuration from file, environment
// and defaults, in that order of increasing precedence for env vars.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cascadeflow/gateway/internal/billing"
	"github.com/cascadeflow/gateway/internal/logger"
	"github.com/cascadeflow/gateway/internal/models"
	"github.com/cascadeflow/gateway/internal/proxy"
	"github.com/cascadeflow/gateway/internal/tracking"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Demo     DemoConfig     `mapstructure:"demo"`
	Auth     AuthConfig     `mapstructure:"auth"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Cascade  CascadeConfig  `mapstructure:"cascade"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Logging  logger.Config  `mapstructure:"logging"`
	Billing  billing.Config `mapstructure:"billing"`

	Routes        []proxy.Route                    `mapstructure:"routes"`
	Models        []models.ModelConfig             `mapstructure:"models"`
	VirtualModels map[string]string                `mapstructure:"virtual_models"`
	Budgets       map[string]tracking.BudgetConfig `mapstructure:"budgets"`
}

type ServerConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
}

type GatewayConfig struct {
	// Mode is auto, mock or agent. auto picks agent when any route has
	// an API key and mock otherwise.
	Mode                   string  `mapstructure:"mode"`
	AdvertiseModel         string  `mapstructure:"advertise_model"`
	IncludeGatewayMetadata bool    `mapstructure:"include_gateway_metadata"`
	NoStream               bool    `mapstructure:"no_stream"`
	TokenCost              float64 `mapstructure:"token_cost"`
	DefaultProvider        string  `mapstructure:"default_provider"`
	Preset                 string  `mapstructure:"preset"`
}

type DemoConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxQueries    int  `mapstructure:"max_queries"`
	WindowSeconds int  `mapstructure:"window_seconds"`
}

func (d DemoConfig) Window() time.Duration {
	return time.Duration(d.WindowSeconds) * time.Second
}

type AuthConfig struct {
	Token      string `mapstructure:"token"`
	StatsToken string `mapstructure:"stats_token"`
}

type CORSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	AllowOrigin string `mapstructure:"allow_origin"`
}

type CascadeConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Drafter   string  `mapstructure:"drafter"`
	Verifier  string  `mapstructure:"verifier"`
	Threshold float64 `mapstructure:"threshold"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TrackingConfig struct {
	EnforcementMode string `mapstructure:"enforcement_mode"`
	MaxEntries      int    `mapstructure:"max_entries"`
}

// Load reads the config file at path (optional) plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cascadeflow")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/cascadeflow")
	}

	setDefaults(v)
	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if path != "" || !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	expandRouteKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// expandRouteKeys resolves ${ENV_VAR} references in route api_key
// fields before decoding.
func expandRouteKeys(v *viper.Viper) {
	raw := v.Get("routes")
	routes, ok := raw.([]interface{})
	if !ok {
		return
	}
	for _, r := range routes {
		route, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		key, _ := route["api_key"].(string)
		if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
			if val := os.Getenv(key[2 : len(key)-1]); val != "" {
				route["api_key"] = val
			}
		}
	}
	v.Set("routes", routes)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8084)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "300s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.graceful_shutdown", "15s")

	v.SetDefault("gateway.mode", "auto")
	v.SetDefault("gateway.advertise_model", "cascadeflow")
	v.SetDefault("gateway.include_gateway_metadata", true)
	v.SetDefault("gateway.default_provider", "openai")
	v.SetDefault("gateway.token_cost", 0.0)

	v.SetDefault("demo.enabled", false)
	v.SetDefault("demo.max_queries", 10)
	v.SetDefault("demo.window_seconds", 3600)

	v.SetDefault("cors.enabled", false)
	v.SetDefault("cors.allow_origin", "*")

	v.SetDefault("cascade.enabled", true)
	v.SetDefault("cascade.threshold", 0.0)

	v.SetDefault("tracking.enforcement_mode", "off")
	v.SetDefault("tracking.max_entries", 100000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("billing.timeout", "10s")
	v.SetDefault("billing.max_retries", 3)
	v.SetDefault("billing.retry_backoff", "500ms")
	v.SetDefault("billing.quantity_mode", "tokens")
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("server.host", "CASCADEFLOW_HOST")
	v.BindEnv("server.port", "CASCADEFLOW_PORT")

	v.BindEnv("gateway.mode", "CASCADEFLOW_MODE")
	v.BindEnv("gateway.advertise_model", "CASCADEFLOW_ADVERTISE_MODEL")

	v.BindEnv("auth.token", "CASCADEFLOW_AUTH_TOKEN")
	v.BindEnv("auth.stats_token", "CASCADEFLOW_STATS_AUTH_TOKEN")

	v.BindEnv("demo.enabled", "CASCADEFLOW_DEMO_MODE")
	v.BindEnv("demo.max_queries", "CASCADEFLOW_DEMO_MAX_QUERIES")
	v.BindEnv("demo.window_seconds", "CASCADEFLOW_DEMO_WINDOW_SECONDS")

	v.BindEnv("redis.url", "REDIS_URL")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("logging.format", "LOG_FORMAT")

	v.BindEnv("billing.api_key", "PAYGENTIC_API_KEY")
	v.BindEnv("billing.merchant_id", "PAYGENTIC_MERCHANT_ID")
	v.BindEnv("billing.billable_metric_id", "PAYGENTIC_BILLABLE_METRIC_ID")
	v.BindEnv("billing.base_url", "PAYGENTIC_BASE_URL")
	v.BindEnv("billing.sandbox", "PAYGENTIC_SANDBOX")
}
