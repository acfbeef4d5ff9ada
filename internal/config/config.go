package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"roomrelay/backend/internal/log"
)

// Config is the full process configuration. Every key can be overridden by an
// environment variable named after its path, e.g. CHAT_SWEEP_INTERVAL.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Registry  RegistryConfig
	Chat      ChatConfig
	WebSocket WebSocketConfig
	Payment   PaymentConfig
	Rooms     RoomsConfig
	Upload    UploadConfig
	Admin     AdminConfig
	Telegram  TelegramConfig
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       log.Config
}

type ServerConfig struct {
	Host      string
	Port      int
	StaticDir string `mapstructure:"static_dir"`
	PublicURL string `mapstructure:"public_url"`
	// TrustedProxies lists the proxies allowed to set X-Forwarded-For.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string `mapstructure:"sslmode"`
	Path     string
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	RoomsKey string `mapstructure:"rooms_key"`
}

type RegistryConfig struct {
	// Backend is "redis" or "database".
	Backend string
}

type ChatConfig struct {
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	PresenceTimeout time.Duration `mapstructure:"presence_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	StorageTimeout  time.Duration `mapstructure:"storage_timeout"`
	SendBuffer      int           `mapstructure:"send_buffer"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type PaymentConfig struct {
	RPCURLs          []string `mapstructure:"rpc_urls"`
	TokenAddress     string   `mapstructure:"token_address"`
	ReceiverAddress  string   `mapstructure:"receiver_address"`
	Decimals         int
	Amount           string
	Timeout          time.Duration
	MinConfirmations uint64 `mapstructure:"min_confirmations"`
}

type RoomsConfig struct {
	PaidPattern string `mapstructure:"paid_pattern"`
}

type UploadConfig struct {
	MaxSize  int64  `mapstructure:"max_size"`
	Backend  string // "local" or "s3"
	LocalDir string `mapstructure:"local_dir"`
	S3       S3Config
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicURL       string `mapstructure:"public_url"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

type AdminConfig struct {
	Username     string
	PasswordHash string        `mapstructure:"password_hash"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

var defaults = map[string]any{
	"server.host":            "0.0.0.0",
	"server.port":            8080,
	"server.static_dir":      "./public",
	"server.public_url":      "",
	"server.trusted_proxies": []string{},

	"database.driver":   "sqlite",
	"database.host":     "localhost",
	"database.port":     5432,
	"database.user":     "postgres",
	"database.password": "",
	"database.name":     "roomrelay",
	"database.sslmode":  "disable",
	"database.path":     "roomrelay.db",

	"redis.address":   "localhost:6379",
	"redis.password":  "",
	"redis.db":        0,
	"redis.rooms_key": "roomrelay:rooms",

	"registry.backend": "database",

	"chat.sweep_interval":   "30s",
	"chat.presence_timeout": "60s",
	"chat.idle_timeout":     "5m",
	"chat.storage_timeout":  "5s",
	"chat.send_buffer":      256,

	"websocket.ping_interval":    "54s",
	"websocket.pong_wait":        "60s",
	"websocket.write_wait":       "10s",
	"websocket.max_message_size": 64 << 10,

	"payment.rpc_urls": []string{
		"https://bsc-dataseed.binance.org",
		"https://bsc-dataseed1.defibit.io",
		"https://bsc-dataseed1.ninicoin.io",
	},
	"payment.token_address":     "0x55d398326f99059fF775485246999027B3197955",
	"payment.receiver_address":  "0x413b0733a6d7e32455aD735C0be637c342F33145",
	"payment.decimals":          18,
	"payment.amount":            "1",
	"payment.timeout":           "10s",
	"payment.min_confirmations": 1,

	"rooms.paid_pattern": `^0x[a-fA-F0-9]{40}$`,

	"upload.max_size":             50 << 20,
	"upload.backend":              "local",
	"upload.local_dir":            "./uploads",
	"upload.s3.bucket":            "",
	"upload.s3.region":            "auto",
	"upload.s3.endpoint":          "",
	"upload.s3.access_key_id":     "",
	"upload.s3.secret_access_key": "",
	"upload.s3.public_url":        "",
	"upload.s3.use_path_style":    false,

	"admin.username":      "admin",
	"admin.password_hash": "",
	"admin.jwt_secret":    "",
	"admin.token_ttl":     "12h",

	"telegram.bot_token": "",
	"telegram.chat_id":   0,

	"ratelimit.requests": 30,
	"ratelimit.window":   "1m",

	"log.level":   "info",
	"log.pretty":  false,
	"log.service": "roomrelay",
}

// Load reads .env (if present), then config.yaml from configPath, then the
// environment. A missing config file is not an error.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// Short names used by most hosting platforms.
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("database.host", "DATABASE_HOST", "DB_HOST")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD", "DB_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	switch c.Registry.Backend {
	case "redis", "database":
	default:
		return fmt.Errorf("registry.backend: unsupported backend %q", c.Registry.Backend)
	}
	switch c.Upload.Backend {
	case "local", "s3":
	default:
		return fmt.Errorf("upload.backend: unsupported backend %q", c.Upload.Backend)
	}
	if c.Upload.Backend == "s3" && c.Upload.S3.Bucket == "" {
		return errors.New("upload.s3.bucket is required for the s3 backend")
	}
	if c.Chat.SweepInterval <= 0 || c.Chat.PresenceTimeout <= 0 {
		return errors.New("chat.sweep_interval and chat.presence_timeout must be positive")
	}
	if c.Chat.SendBuffer <= 0 {
		return errors.New("chat.send_buffer must be positive")
	}
	if len(c.Payment.RPCURLs) == 0 {
		return errors.New("payment.rpc_urls must list at least one endpoint")
	}
	return nil
}
