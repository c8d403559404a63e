package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ServerCfg struct {
	Addr                   string `mapstructure:"addr"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

type LogCfg struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type StoreCfg struct {
	DSN string `mapstructure:"dsn"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaCfg struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

type AuthCfg struct {
	JWTSecret       string `mapstructure:"jwt_secret"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes"`
}

type WSCfg struct {
	SendBuffer int `mapstructure:"send_buffer"`
}

type Config struct {
	Server ServerCfg `mapstructure:"server"`
	Log    LogCfg    `mapstructure:"log"`
	Store  StoreCfg  `mapstructure:"store"`
	Redis  RedisCfg  `mapstructure:"redis"`
	Kafka  KafkaCfg  `mapstructure:"kafka"`
	Auth   AuthCfg   `mapstructure:"auth"`
	WS     WSCfg     `mapstructure:"ws"`
	// Derived
	ShutdownTimeout time.Duration
	KafkaTimeout    time.Duration
	TokenTTL        time.Duration
}

var ErrMissingSecret = errors.New("auth.jwt_secret is required")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("store.dsn", "chat.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chat")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "chat.events")
	v.SetDefault("kafka.timeout_seconds", 5)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl_minutes", 60*24)
	v.SetDefault("ws.send_buffer", 256)
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"addr":      "server.addr",
	"log-level": "log.level",
	"dsn":       "store.dsn",
}

// Load reads path (optional, any format viper knows) and overlays CHAT_* env
// vars, e.g. CHAT_SERVER_ADDR or CHAT_KAFKA_BROKERS="a:9092,b:9092".
func Load(path string) (*Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags is Load plus any flagKeys flags present in flags. A flag only
// wins when it was set on the command line.
func LoadWithFlags(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.WS.SendBuffer <= 0 {
		cfg.WS.SendBuffer = 256
	}
	// 单个 "a,b" 形式的环境变量
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	cfg.ShutdownTimeout = time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	cfg.KafkaTimeout = time.Duration(cfg.Kafka.TimeoutSeconds) * time.Second
	cfg.TokenTTL = time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
	return &cfg, nil
}
