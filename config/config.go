package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMemory    = "memory"
)

type Config struct {
	Debug                        bool          `envconfig:"debug"`
	Port                         int           `envconfig:"port" default:"8080"`
	Env                          string        `envconfig:"env" default:"dev"`
	Store                        string        `envconfig:"store" default:"firestore"`
	FirebaseProjectID            string        `envconfig:"firebase_project_id"`
	GoogleApplicationCredentials string        `envconfig:"google_application_credentials"`
	CampusEmailDomain            string        `envconfig:"campus_email_domain" default:"clarku.edu"`
	RequireVerifiedEmail         bool          `envconfig:"require_verified_email" default:"true"`
	PostgresHost                 string        `envconfig:"postgres_host"`
	PostgresUser                 string        `envconfig:"postgres_user"`
	PostgresDB                   string        `envconfig:"postgres_db"`
	PostgresPort                 int           `envconfig:"postgres_port" default:"5432"`
	PostgresPassword             string        `envconfig:"postgres_password"`
	RedisAddr                    string        `envconfig:"redis_addr"`
	PollInterval                 time.Duration `envconfig:"poll_interval" default:"2s"`
	WriteMaxAttempts             int           `envconfig:"chat_write_max_attempts" default:"3"`
	WriteBackoff                 time.Duration `envconfig:"chat_write_backoff" default:"250ms"`
	ResubscribeBackoff           time.Duration `envconfig:"chat_resubscribe_backoff" default:"500ms"`
	ResubscribeMaxBackoff        time.Duration `envconfig:"chat_resubscribe_max_backoff" default:"30s"`
	NotifyReceivers              bool          `envconfig:"notify_receivers"`
	SocketRateLimit              uint          `envconfig:"socket_rate_limit" default:"30"`
	MaxMessageLength             int           `envconfig:"max_message_length" default:"2000"`
	AccessControlAllowOrigin     string        `envconfig:"access_control_allow_origin"`
}

func Load() (*Config, error) {
	env := os.Getenv("GIN_MODE")
	if env != "release" {
		if err := godotenv.Load("./.env"); err != nil {
			log.Printf("couldn't load env vars: %v", err)
		}
	}

	c := &Config{}
	err := envconfig.Process("clarkmarket", c)
	if err != nil {
		return nil, err
	}
	return c, nil
}
