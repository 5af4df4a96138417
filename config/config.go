package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Lavalink 节点配置
	NodeName          string
	NodeHost          string
	NodePort          string
	NodePassword      string
	NodeSecure        bool
	NodeResumeTimeout time.Duration
	ResolveSource     string // search prefix for partial tracks, e.g. "ytsearch"

	// 播放历史（MySQL，可选）
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// 会话备份（MinIO，可选）
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Discord
	BotUserID    string
	DiscordToken string

	// 管理 API
	HTTPAddr          string
	JWTSecret         string
	JWTTTL            time.Duration
	AdminPasswordHash string // bcrypt

	// 日志
	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}
	return fromEnv()
}

// Reload re-reads path, overriding variables already in the environment.
func Reload(path string) (*Config, error) {
	if err := godotenv.Overload(path); err != nil {
		return nil, err
	}
	return fromEnv(), nil
}

func fromEnv() *Config {
	return &Config{
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),

		NodeName:          getEnv("LAVALINK_NODE_NAME", "main"),
		NodeHost:          getEnv("LAVALINK_HOST", "127.0.0.1"),
		NodePort:          getEnv("LAVALINK_PORT", "2333"),
		NodePassword:      getEnv("LAVALINK_PASSWORD", "youshallnotpass"),
		NodeSecure:        getEnvBool("LAVALINK_SECURE", false),
		NodeResumeTimeout: time.Duration(getEnvInt("LAVALINK_RESUME_TIMEOUT", 60)) * time.Second,
		ResolveSource:     getEnv("RESOLVE_SOURCE", "ytsearch"),

		DBHost:     os.Getenv("DB_HOST"), // 为空时不记录播放历史
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "lavaqueue"),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "lavaqueue"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		BotUserID:    os.Getenv("BOT_USER_ID"),
		DiscordToken: os.Getenv("DISCORD_TOKEN"),

		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTTTL:            time.Duration(getEnvInt("JWT_TTL_HOURS", 24)) * time.Hour,
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}

// NodeWebSocketURL returns the websocket address of the configured node.
func (c *Config) NodeWebSocketURL() string {
	scheme := "ws"
	if c.NodeSecure {
		scheme = "wss"
	}
	return scheme + "://" + c.NodeHost + ":" + c.NodePort
}

// HistoryEnabled reports whether a MySQL database is configured.
func (c *Config) HistoryEnabled() bool {
	return c.DBHost != ""
}

// NodeRestURL returns the HTTP base address of the configured node.
func (c *Config) NodeRestURL() string {
	scheme := "http"
	if c.NodeSecure {
		scheme = "https"
	}
	return scheme + "://" + c.NodeHost + ":" + c.NodePort
}
