package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Adapter modes for the email/SMS/push channel adapters.
const (
	AdaptersAWS = "aws"
	AdaptersLog = "log"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Auth
	JWTSecret string

	// ClientOrigin is the only cross-origin caller accepted by the
	// websocket endpoint and the pull API.
	ClientOrigin string

	// Realtime
	WSSendBuffer int

	// Channel adapters
	ChannelAdapters string // "aws" or "log"
	AdapterTimeout  time.Duration

	// AWS Services
	AWSRegion       string
	AWSEndpoint     string // LocalStack override for SQS and SNS push
	SESFromEmail    string
	SNSRegion       string // AWS region for SNS (SMS + push)
	SNSPushTopicARN string

	// SQS domain event intake
	SQSRegion   string
	SQSQueueURL string

	RateLimitPerMinute int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "beacon",
		DBPassword: "",
		DBName:     "beacon",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		JWTSecret:    "dev-secret-key",
		ClientOrigin: "http://localhost:3000",

		WSSendBuffer: 32,

		ChannelAdapters: AdaptersLog,
		AdapterTimeout:  10 * time.Second,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@beacon.local",

		RateLimitPerMinute: 120,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	} else if cfg.Env == "production" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}

	if origin := os.Getenv("CLIENT_ORIGIN"); origin != "" {
		cfg.ClientOrigin = origin
	}

	if buf := os.Getenv("WS_SEND_BUFFER"); buf != "" {
		b, err := strconv.Atoi(buf)
		if err != nil || b <= 0 {
			return nil, fmt.Errorf("invalid WS_SEND_BUFFER: %q", buf)
		}
		cfg.WSSendBuffer = b
	}

	if mode := os.Getenv("CHANNEL_ADAPTERS"); mode != "" {
		if mode != AdaptersAWS && mode != AdaptersLog {
			return nil, fmt.Errorf("invalid CHANNEL_ADAPTERS: %q (want aws or log)", mode)
		}
		cfg.ChannelAdapters = mode
	}

	if timeout := os.Getenv("ADAPTER_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid ADAPTER_TIMEOUT: %w", err)
		}
		cfg.AdapterTimeout = time.Duration(t) * time.Second
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		cfg.AWSEndpoint = endpoint
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// SNS config for SMS and push
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if arn := os.Getenv("SNS_PUSH_TOPIC_ARN"); arn != "" {
		cfg.SNSPushTopicARN = arn
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	if limit := os.Getenv("RATE_LIMIT_PER_MINUTE"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
		}
		cfg.RateLimitPerMinute = l
	}

	return cfg, nil
}
