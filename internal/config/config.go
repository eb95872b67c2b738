package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 保存应用程序配置。
type Config struct {
	App       AppConfig       `json:"app" yaml:"app"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Email     EmailConfig     `json:"email" yaml:"email"`
	Security  SecurityConfig  `json:"security" yaml:"security"`
	Media     MediaConfig     `json:"media" yaml:"media"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env             string        `json:"env" yaml:"env"`                           // 运行环境: local / prod
	LogLevel        string        `json:"log_level" yaml:"log_level"`               // 日志级别: debug / info / warn / error
	LogFormat       string        `json:"log_format" yaml:"log_format"`             // text / json
	HTTPAddr        string        `json:"http_addr" yaml:"http_addr"`               // API 服务监听地址
	PublicURL       string        `json:"public_url" yaml:"public_url"`             // 对外访问地址（拼接媒体 URL）
	FrontendURL     string        `json:"frontend_url" yaml:"frontend_url"`         // CORS 允许的前端地址
	PublishInterval time.Duration `json:"publish_interval" yaml:"publish_interval"` // 定时发布扫描间隔（如 "1m"）
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"` // 优雅退出超时
	Version         string        `json:"version" yaml:"version"`                   // /health 返回的版本号
}

// DatabaseConfig 数据库配置。Driver 为 mysql 或 sqlite，DSN 为空表示不连接数据库。
type DatabaseConfig struct {
	Driver         string        `json:"driver" yaml:"driver"`
	DSN            string        `json:"dsn" yaml:"dsn"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"` // 启动探测超时
	MaxOpenConns   int           `json:"max_open_conns" yaml:"max_open_conns"`
}

// RedisConfig Redis 配置，Addr 为空时登录限流退化为进程内限流。
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`         // Redis 地址 (host:port)
	Password string `json:"password" yaml:"password"` // Redis 密码
	DB       int    `json:"db" yaml:"db"`
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort  int    `json:"smtp_port" yaml:"smtp_port"`
	SMTPUser  string `json:"smtp_user" yaml:"smtp_user"`
	SMTPPass  string `json:"smtp_pass" yaml:"smtp_pass"`
	FromEmail string `json:"from_email" yaml:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret         string        `json:"jwt_secret" yaml:"jwt_secret"`                 // JWT 签名密钥
	TokenTTL          time.Duration `json:"token_ttl" yaml:"token_ttl"`                   // 令牌有效期
	CookieSecure      bool          `json:"cookie_secure" yaml:"cookie_secure"`           // auth_token Cookie 是否仅 HTTPS
	BootstrapEmail    string        `json:"bootstrap_email" yaml:"bootstrap_email"`       // 内置管理员邮箱
	BootstrapName     string        `json:"bootstrap_name" yaml:"bootstrap_name"`         // 内置管理员名称
	BootstrapPassword string        `json:"bootstrap_password" yaml:"bootstrap_password"` // 内置管理员密码（启动时哈希）
	LoginRateLimit    float64       `json:"login_rate_limit" yaml:"login_rate_limit"`     // 登录限流速率（token/s）
	LoginRateBurst    int           `json:"login_rate_burst" yaml:"login_rate_burst"`     // 登录限流桶容量
}

// MediaConfig 媒体存储配置。
type MediaConfig struct {
	Backend        string    `json:"backend" yaml:"backend"`                   // local / gcs / s3
	LocalDir       string    `json:"local_dir" yaml:"local_dir"`               // 本地存储目录
	MaxUploadBytes int64     `json:"max_upload_bytes" yaml:"max_upload_bytes"` // 单文件上限
	GCS            GCSConfig `json:"gcs" yaml:"gcs"`
	S3             S3Config  `json:"s3" yaml:"s3"`
}

type GCSConfig struct {
	Bucket          string `json:"bucket" yaml:"bucket"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
	PublicBaseURL   string `json:"public_base_url" yaml:"public_base_url"`
}

type S3Config struct {
	Bucket          string `json:"bucket" yaml:"bucket"`
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"` // 兼容 S3 的自建端点
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	PublicBaseURL   string `json:"public_base_url" yaml:"public_base_url"`
}

// TelemetryConfig OTLP 追踪配置，Endpoint 为空表示关闭。
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string `json:"service_name" yaml:"service_name"`
}

// IsProduction 生产环境下 500 错误不返回内部细节。
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.App.Env))
	return env == "prod" || env == "production"
}

// Load 从 JSON 或 YAML 文件加载配置。
//
// 默认读取 configs/config.json；文件不存在时使用默认值。
// 扩展名为 .yaml/.yml 时按 YAML 解析。环境变量始终优先。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// getDefaultConfig 返回默认配置。数据库默认不配置，服务以降级模式启动。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:             "local",
			LogLevel:        "info",
			LogFormat:       "text",
			HTTPAddr:        ":5001",
			PublicURL:       "http://localhost:5001",
			FrontendURL:     "http://localhost:3000",
			PublishInterval: time.Minute,
			ShutdownTimeout: 10 * time.Second,
			Version:         "1.0.0",
		},
		Database: DatabaseConfig{
			Driver:         "mysql",
			DSN:            "",
			ConnectTimeout: 5 * time.Second,
			MaxOpenConns:   10,
		},
		Redis: RedisConfig{},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Security: SecurityConfig{
			JWTSecret:         "dev_secret_change_me",
			TokenTTL:          7 * 24 * time.Hour,
			BootstrapEmail:    "isak@maxyourpoints.com",
			BootstrapName:     "Isak Parild",
			BootstrapPassword: "admin123",
			LoginRateLimit:    0.2,
			LoginRateBurst:    5,
		},
		Media: MediaConfig{
			Backend:        "local",
			LocalDir:       "uploads",
			MaxUploadBytes: 20 << 20,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "maxyourpoints-api",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = defaults.App.LogFormat
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.PublicURL == "" {
		cfg.App.PublicURL = defaults.App.PublicURL
	}
	if cfg.App.FrontendURL == "" {
		cfg.App.FrontendURL = defaults.App.FrontendURL
	}
	if cfg.App.PublishInterval == 0 {
		cfg.App.PublishInterval = defaults.App.PublishInterval
	}
	if cfg.App.ShutdownTimeout == 0 {
		cfg.App.ShutdownTimeout = defaults.App.ShutdownTimeout
	}
	if cfg.App.Version == "" {
		cfg.App.Version = defaults.App.Version
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = defaults.Database.ConnectTimeout
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaults.Database.MaxOpenConns
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.TokenTTL == 0 {
		cfg.Security.TokenTTL = defaults.Security.TokenTTL
	}
	if cfg.Security.BootstrapEmail == "" {
		cfg.Security.BootstrapEmail = defaults.Security.BootstrapEmail
	}
	if cfg.Security.BootstrapName == "" {
		cfg.Security.BootstrapName = defaults.Security.BootstrapName
	}
	if cfg.Security.BootstrapPassword == "" {
		cfg.Security.BootstrapPassword = defaults.Security.BootstrapPassword
	}
	if cfg.Security.LoginRateLimit == 0 {
		cfg.Security.LoginRateLimit = defaults.Security.LoginRateLimit
	}
	if cfg.Security.LoginRateBurst == 0 {
		cfg.Security.LoginRateBurst = defaults.Security.LoginRateBurst
	}
	if cfg.Media.Backend == "" {
		cfg.Media.Backend = defaults.Media.Backend
	}
	if cfg.Media.LocalDir == "" {
		cfg.Media.LocalDir = defaults.Media.LocalDir
	}
	if cfg.Media.MaxUploadBytes == 0 {
		cfg.Media.MaxUploadBytes = defaults.Media.MaxUploadBytes
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = defaults.Telemetry.ServiceName
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("database_url", "DATABASE_URL")
	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("bootstrap_password", "BOOTSTRAP_ADMIN_PASSWORD")
	_ = viper.BindEnv("otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_LOG_FORMAT"); v != "" {
		cfg.App.LogFormat = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.App.HTTPAddr = ":" + v
	}
	if v := os.Getenv("APP_PUBLIC_URL"); v != "" {
		cfg.App.PublicURL = v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.App.FrontendURL = v
	}
	if v := os.Getenv("APP_PUBLISH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.PublishInterval = d
		}
	}

	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := viper.GetString("database_url"); v != "" {
		cfg.Database.DSN = v
	} else if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Database.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.Database.DSN)
		if v := viper.GetString("db_host"); v != "" {
			parsed.Addr = v + ":" + getenvDefault("DB_PORT", parsed.Addr, "3306")
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.Database.Driver = "mysql"
		cfg.Database.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("BOOTSTRAP_ADMIN_EMAIL"); v != "" {
		cfg.Security.BootstrapEmail = v
	}
	if v := viper.GetString("bootstrap_password"); v != "" {
		cfg.Security.BootstrapPassword = v
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Security.CookieSecure = b
		}
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}

	if v := os.Getenv("MEDIA_BACKEND"); v != "" {
		cfg.Media.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("MEDIA_LOCAL_DIR"); v != "" {
		cfg.Media.LocalDir = v
	}
	if v := os.Getenv("GCS_BUCKET"); v != "" {
		cfg.Media.GCS.Bucket = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		cfg.Media.GCS.CredentialsFile = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.Media.S3.Bucket = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.Media.S3.Region = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.Media.S3.Endpoint = v
	}

	if v := viper.GetString("otlp_endpoint"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func defaultMySQLConfig() *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = "root"
	cfg.Net = "tcp"
	cfg.Addr = "localhost:3306"
	cfg.DBName = "maxyourpoints"
	cfg.ParseTime = true
	return cfg
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if dsn == "" {
		return defaultMySQLConfig()
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return defaultMySQLConfig()
	}
	return parsed
}

func parseDuration(field, raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s format: %w", field, err)
	}
	*dst = d
	return nil
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		PublishInterval string `json:"publish_interval"`
		ShutdownTimeout string `json:"shutdown_timeout"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := parseDuration("publish_interval", aux.PublishInterval, &a.PublishInterval); err != nil {
		return err
	}
	return parseDuration("shutdown_timeout", aux.ShutdownTimeout, &a.ShutdownTimeout)
}

func (d *DatabaseConfig) UnmarshalJSON(data []byte) error {
	type Alias DatabaseConfig
	aux := &struct {
		ConnectTimeout string `json:"connect_timeout"`
		*Alias
	}{
		Alias: (*Alias)(d),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDuration("connect_timeout", aux.ConnectTimeout, &d.ConnectTimeout)
}

func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	type Alias SecurityConfig
	aux := &struct {
		TokenTTL string `json:"token_ttl"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDuration("token_ttl", aux.TokenTTL, &s.TokenTTL)
}
