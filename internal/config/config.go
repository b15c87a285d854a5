package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MongoURI            string        `yaml:"mongo_uri"`
	MongoDatabase       string        `yaml:"mongo_database"`
	PostgresURI         string        `yaml:"postgres_uri"`
	RedisURI            string        `yaml:"redis_uri"`
	Port                string        `yaml:"port"`
	Host                string        `yaml:"host"`
	Environment         string        `yaml:"env"`           // ENV: production, development, etc.
	AllowedOrigins      []string      `yaml:"allowed_origins"` // CORS: from ALLOWED_ORIGINS or FRONTEND_URL
	CloudinaryName      string        `yaml:"cloudinary_cloud_name"`
	CloudinaryAPIKey    string        `yaml:"cloudinary_api_key"`
	CloudinaryAPISecret string        `yaml:"cloudinary_api_secret"`
	PhotoFolder         string        `yaml:"photo_folder"`
	SessionTTL          time.Duration `yaml:"session_ttl"`
	OTPTTL              time.Duration `yaml:"otp_ttl"`
	WorkTimezone        string        `yaml:"work_timezone"` // IANA zone that decides a work log's calendar day
	SocketEventsPerSec  float64       `yaml:"socket_events_per_second"`
	SocketEventBurst    int           `yaml:"socket_event_burst"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
}

// Load reads the environment and then, when CONFIG_FILE is set, overlays the
// YAML file on top of it.
func Load() (*Config, error) {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))

	allowedOrigins := parseOrigins(getEnv("ALLOWED_ORIGINS", ""))
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{getEnv("FRONTEND_URL", "http://localhost:3000")}
	}

	cfg := &Config{
		MongoURI:            getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/workbridge")),
		MongoDatabase:       getEnv("MONGO_DATABASE", ""),
		PostgresURI:         getEnv("POSTGRES_URI", "postgres://localhost:5432/workbridge?sslmode=disable"),
		RedisURI:            getEnv("REDIS_URI", "redis://localhost:6379/0"),
		Port:                getEnv("PORT", "8080"),
		Host:                getEnv("HOST", "http://localhost:8080"),
		Environment:         env,
		AllowedOrigins:      allowedOrigins,
		CloudinaryName:      getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		PhotoFolder:         getEnv("PHOTO_FOLDER", "workbridge/worklogs"),
		SessionTTL:          getDuration("SESSION_TTL", 7*24*time.Hour),
		OTPTTL:              getDuration("OTP_TTL", 10*time.Minute),
		WorkTimezone:        getEnv("WORK_TIMEZONE", "UTC"),
		SocketEventsPerSec:  getFloat("SOCKET_EVENTS_PER_SECOND", 10),
		SocketEventBurst:    getInt("SOCKET_EVENT_BURST", 20),
		ShutdownTimeout:     getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
		cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port is required")
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("config: otp_ttl must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config: work_timezone: %w", err)
	}
	if c.SocketEventsPerSec <= 0 || c.SocketEventBurst <= 0 {
		return fmt.Errorf("config: socket rate limit must be positive")
	}
	return nil
}

// Location returns the work-day time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.WorkTimezone)
}

// CloudinaryConfigured reports whether photo uploads can be enabled.
func (c *Config) CloudinaryConfigured() bool {
	return c.CloudinaryName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}
