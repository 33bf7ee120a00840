package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
)

const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
	DriverBadger = "badger"
	DriverMongo  = "mongo"
)

type Config struct {
	Port          int64       `json:"port"`
	LogLevel      string      `json:"log_level"`
	StorageDriver string      `json:"storage_driver"`
	RedisServer   RedisServer `json:"redis_server"`
	Badger        Badger      `json:"badger"`
	Mongo         Mongo       `json:"mongo"`
	Presence      Presence    `json:"presence"`
	Session       Session     `json:"session"`
}

type RedisServer struct {
	Addr     string `json:"addr"`
	User     string `json:"user"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type Badger struct {
	Path string `json:"path"`
}

type Mongo struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

// Presence configures the inactivity sweep.
type Presence struct {
	Enabled           bool     `json:"enabled"`
	SweepInterval     Duration `json:"sweep_interval"`
	InactivityTimeout Duration `json:"inactivity_timeout"`
}

// Session configures signed session tokens. Tokens are disabled when Secret is empty.
type Session struct {
	Secret string   `json:"secret"`
	TTL    Duration `json:"ttl"`
}

// Duration is a time.Duration written as a string ("15s") in the config file.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string, err: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("fail to parse duration %q, err: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default returns the configuration used for any field the config file leaves out.
func Default() Config {
	return Config{
		Port:          5000,
		LogLevel:      "info",
		StorageDriver: DriverRedis,
		RedisServer: RedisServer{
			Addr: "localhost:6379",
		},
		Badger: Badger{
			Path: "data/badger",
		},
		Mongo: Mongo{
			URI:      "mongodb://localhost:27017",
			Database: "chatroom",
		},
		Presence: Presence{
			Enabled:           true,
			SweepInterval:     Duration(15 * time.Second),
			InactivityTimeout: Duration(10 * time.Second),
		},
		Session: Session{
			TTL: Duration(24 * time.Hour),
		},
	}
}

// LoadConfig loads the configuration from a file.
func LoadConfig(file string) (*Config, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("fail to open config file %s, err: %w", file, err)
	}
	defer func(f *os.File) {
		err := f.Close()
		if err != nil {
			fmt.Println("fail to close file", err)
		}
	}(f)
	cfg := Default()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("fail to decode config file %s, err: %w", file, err)
	}
	return &cfg, nil
}

type environment struct {
	Port          int    `env:"PORT"`
	LogLevel      string `env:"LOG_LEVEL"`
	StorageDriver string `env:"STORAGE_DRIVER"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisUser     string `env:"REDIS_USER"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`
	BadgerPath    string `env:"BADGER_PATH"`
	MongoURI      string `env:"DATABASE_URL"`
	MongoDatabase string `env:"MONGO_DATABASE"`
	SessionSecret string `env:"SESSION_SECRET"`
}

// ApplyEnvironment overrides the fields whose environment variable is set.
func (c *Config) ApplyEnvironment() error {
	var e environment
	es, err := env.UnmarshalFromEnviron(&e)
	if err != nil {
		return fmt.Errorf("fail to read environment, err: %w", err)
	}
	set := func(key string) bool {
		_, ok := es[key]
		return ok
	}
	if set("PORT") {
		c.Port = int64(e.Port)
	}
	if set("LOG_LEVEL") {
		c.LogLevel = e.LogLevel
	}
	if set("STORAGE_DRIVER") {
		c.StorageDriver = e.StorageDriver
	}
	if set("REDIS_ADDR") {
		c.RedisServer.Addr = e.RedisAddr
	}
	if set("REDIS_USER") {
		c.RedisServer.User = e.RedisUser
	}
	if set("REDIS_PASSWORD") {
		c.RedisServer.Password = e.RedisPassword
	}
	if set("REDIS_DB") {
		c.RedisServer.DB = e.RedisDB
	}
	if set("BADGER_PATH") {
		c.Badger.Path = e.BadgerPath
	}
	if set("DATABASE_URL") {
		c.Mongo.URI = e.MongoURI
	}
	if set("MONGO_DATABASE") {
		c.Mongo.Database = e.MongoDatabase
	}
	if set("SESSION_SECRET") {
		c.Session.Secret = e.SessionSecret
	}
	return nil
}

// Validate checks the settings that would otherwise fail late, at first use.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.StorageDriver {
	case DriverRedis, DriverMemory, DriverBadger, DriverMongo:
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.Presence.Enabled {
		if c.Presence.SweepInterval <= 0 {
			return fmt.Errorf("presence sweep interval must be positive")
		}
		if c.Presence.InactivityTimeout <= 0 {
			return fmt.Errorf("presence inactivity timeout must be positive")
		}
	}
	if c.Session.Secret != "" && c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	return nil
}
