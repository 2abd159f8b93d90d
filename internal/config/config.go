package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"` // public url of this service, used for provider return urls

	Database Database `envPrefix:"DATABASE_"`
	Backend  Backend  `envPrefix:"BACKEND_"`
	Stripe   Stripe   `envPrefix:"STRIPE_"`
	Firebase Firebase `envPrefix:"FIREBASE_"`
	Kafka    Kafka    `envPrefix:"KAFKA_"`
}

type Database struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"` // sqlite | mysql
	URL    string `env:"URL" envDefault:"checkout.db"`
}

type Backend struct {
	APIURL  string        `env:"API_URL,required,notEmpty"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

type Stripe struct {
	PublishableKey string `env:"PUBLISHABLE_KEY"`
	SecretKey      string `env:"SECRET_KEY"`
	WebhookSecret  string `env:"WEBHOOK_SECRET"`
}

type Firebase struct {
	APIKey   string `env:"API_KEY"`
	TokenURL string `env:"TOKEN_URL" envDefault:"https://securetoken.googleapis.com/v1/token"`
}

type Kafka struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"checkout-events"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

// Load reads an optional .env file into the process environment and parses Config from it.
func Load() (*Config, error) {
	// a missing .env is fine outside local development
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return c.HTTP.Host + ":" + c.HTTP.Port
}
