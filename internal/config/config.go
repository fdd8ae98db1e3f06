package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LevelDistances holds the Informational/Warning/Critical distances (miles) for one alert type.
type LevelDistances struct {
	Informational float64
	Warning       float64
	Critical      float64
}

// Config holds application configuration loaded from environment.
type Config struct {
	Kafka struct {
		Broker     string
		GPSTopic   string
		AlertTopic string
		GroupID    string
	}
	DB struct {
		DSN string
	}
	Email struct {
		SMTPServer string
		SMTPPort   int
		Username   string
		Password   string
		FromName   string
	}
	Telegram struct {
		BotToken  string
		ChatID    int64
		RateLimit int
	}
	Push struct {
		CredentialsFile string
		ProjectID       string
	}
	API struct {
		Port     string
		BasePath string
	}
	Logging struct {
		Dir   string
		Level string
	}
	Notification struct {
		QueueSize      int
		MaxWorkers     int
		PersistTimeout time.Duration
	}
	Scanner struct {
		Interval      time.Duration
		MaxFixAge     time.Duration
		LookupTimeout time.Duration
		LockTimeout   time.Duration
		Workers       int
		ExpiryWarning time.Duration
		MaxSpeedMPH   float64
	}
	Cache struct {
		TTL time.Duration
	}
	Defaults struct {
		Boundary  LevelDistances
		Proximity LevelDistances
		Overlap   LevelDistances
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load %s file: %w", envFile, err)
	}

	var cfg Config
	p := &parser{}

	// Kafka settings
	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.GPSTopic = os.Getenv("KAFKA_GPS_TOPIC")
	cfg.Kafka.AlertTopic = os.Getenv("KAFKA_ALERT_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	// Database DSN
	cfg.DB.DSN = os.Getenv("DB_DSN")

	// Email settings
	cfg.Email.SMTPServer = os.Getenv("EMAIL_SMTP_SERVER")
	cfg.Email.SMTPPort = p.int("EMAIL_SMTP_PORT", 0)
	cfg.Email.Username = os.Getenv("EMAIL_USERNAME")
	cfg.Email.Password = os.Getenv("EMAIL_PASSWORD")
	cfg.Email.FromName = os.Getenv("EMAIL_FROM_NAME")

	// Telegram supervisor channel
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.ChatID = int64(p.int("TELEGRAM_CHAT_ID", 0))
	cfg.Telegram.RateLimit = p.int("TELEGRAM_RATE_LIMIT", 20)

	// Push
	cfg.Push.CredentialsFile = os.Getenv("PUSH_CREDENTIALS_FILE")
	cfg.Push.ProjectID = os.Getenv("PUSH_PROJECT_ID")

	// API settings
	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	// Notification worker settings
	cfg.Notification.QueueSize = p.int("QUEUE_SIZE", 500)
	cfg.Notification.MaxWorkers = p.int("MAX_WORKERS", 10)
	cfg.Notification.PersistTimeout = p.duration("ALERT_PERSIST_TIMEOUT", 3*time.Second)

	// Scanner settings
	cfg.Scanner.Interval = p.duration("SCAN_INTERVAL", 5*time.Second)
	cfg.Scanner.MaxFixAge = p.duration("SCAN_MAX_FIX_AGE", 2*time.Minute)
	cfg.Scanner.LookupTimeout = p.duration("SCAN_LOOKUP_TIMEOUT", 2*time.Second)
	cfg.Scanner.LockTimeout = p.duration("SCAN_LOCK_TIMEOUT", 250*time.Millisecond)
	cfg.Scanner.Workers = p.int("SCAN_WORKERS", 8)
	cfg.Scanner.ExpiryWarning = p.duration("SCAN_EXPIRY_WARNING", 15*time.Minute)
	cfg.Scanner.MaxSpeedMPH = p.float("SCAN_MAX_SPEED_MPH", 0)

	cfg.Cache.TTL = p.duration("CACHE_TTL", 5*time.Minute)

	cfg.Defaults.Boundary = LevelDistances{
		Informational: p.float("BOUNDARY_INFORMATIONAL_MILES", 1.0),
		Warning:       p.float("BOUNDARY_WARNING_MILES", 0.75),
		Critical:      p.float("BOUNDARY_CRITICAL_MILES", 0.5),
	}
	cfg.Defaults.Proximity = LevelDistances{
		Informational: p.float("PROXIMITY_INFORMATIONAL_MILES", 1.0),
		Warning:       p.float("PROXIMITY_WARNING_MILES", 0.5),
		Critical:      p.float("PROXIMITY_CRITICAL_MILES", 0.25),
	}
	cfg.Defaults.Overlap = LevelDistances{
		Informational: p.float("OVERLAP_INFORMATIONAL_MILES", 2.0),
		Warning:       p.float("OVERLAP_WARNING_MILES", 1.0),
		Critical:      p.float("OVERLAP_CRITICAL_MILES", 0.5),
	}

	if p.err != nil {
		return Config{}, p.err
	}

	// Validate required settings
	missing := []string{}
	if cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	// Apply defaults
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v0"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "proximity-service"
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return cfg, nil
}

// parser records the first malformed variable so Load can report it.
type parser struct {
	err error
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *parser) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid value for %s: %w", key, err)
	}
}
