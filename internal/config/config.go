package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         string `yaml:"port"`
		TickInterval string `yaml:"tickInterval"`
		// MessagesPerSecond throttles inbound websocket messages per connection.
		MessagesPerSecond float64 `yaml:"messagesPerSecond"`
		MessageBurst      int     `yaml:"messageBurst"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL        string `yaml:"ttl"`
		ContentDir string `yaml:"contentDir"`
		SessionTTL string `yaml:"sessionTTL"`
	} `yaml:"quiz"`
	Codec struct {
		Secret string `yaml:"secret"`
		Salt   string `yaml:"salt"`
	} `yaml:"codec"`
	Guard struct {
		RateLimit    int    `yaml:"rateLimit"`
		RateWindow   string `yaml:"rateWindow"`
		ReplayTTL    string `yaml:"replayTTL"`
		InFlightWait string `yaml:"inFlightWait"`
	} `yaml:"guard"`
	Scoring struct {
		PartialCredit *bool   `yaml:"partialCredit"`
		TimeThreshold float64 `yaml:"timeThreshold"`
		ScaleMaxScore *bool   `yaml:"scaleMaxScore"`
	} `yaml:"scoring"`
	Events struct {
		AMQPURL  string `yaml:"amqpURL"`
		Exchange string `yaml:"exchange"`
	} `yaml:"events"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Sweep struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"sweep"`
}

// Load reads YAML config from path, then applies environment overrides.
// A missing file yields defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets deployments keep secrets and endpoints out of the YAML file.
func (c *Config) applyEnv() {
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Postgres.URL, "POSTGRES_URL")
	setString(&c.Codec.Secret, "QUIZ_CODEC_SECRET")
	setString(&c.Codec.Salt, "QUIZ_CODEC_SALT")
	setString(&c.Events.AMQPURL, "AMQP_URL")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Quiz.ContentDir, "QUIZ_CONTENT_DIR")
	if v, err := strconv.Atoi(os.Getenv("GUARD_RATE_LIMIT")); err == nil && v > 0 {
		c.Guard.RateLimit = v
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// BoolOr returns *b, or fallback when unset.
func BoolOr(b *bool, fallback bool) bool {
	if b == nil {
		return fallback
	}
	return *b
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
