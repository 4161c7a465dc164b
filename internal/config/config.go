package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Port        string
	DBDriver    string // "sqlite" or "postgres"
	DBDSN       string
	VerifyToken string
	// AppSecret is the global webhook signing secret, used only when the
	// payload carries no channel-identifying field.
	AppSecret         string
	MediaDir          string
	GraphAPIBase      string
	SchedulerInterval time.Duration
	LogLevel          string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Warn("no .env file loaded")
	}

	return &Config{
		Port:              getEnv("PORT", "8080"),
		DBDriver:          getEnv("DB_DRIVER", "sqlite"),
		DBDSN:             getEnv("DB_DSN", "./hub.db"),
		VerifyToken:       getEnv("VERIFY_TOKEN", ""),
		AppSecret:         getEnv("APP_SECRET", ""),
		MediaDir:          getEnv("MEDIA_DIR", "./uploads/media"),
		GraphAPIBase:      getEnv("GRAPH_API_BASE", "https://graph.facebook.com/v19.0"),
		SchedulerInterval: time.Duration(getEnvInt("SCHEDULER_INTERVAL_SECONDS", 60)) * time.Second,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
