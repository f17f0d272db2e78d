package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const envPrefix = "MATCHBOOK_"

type Server struct {
	Address string
	Port    int
	// Workers bounds the number of client connections served at once.
	Workers int
}

type Log struct {
	Level  zerolog.Level
	Pretty bool // console writer instead of JSON lines
}

// Kafka publishing is enabled when Brokers is non-empty.
type Kafka struct {
	Brokers []string
	Topic   string
}

type Config struct {
	Server Server
	Log    Log
	Kafka  Kafka
}

func Default() Config {
	return Config{
		Server: Server{
			Address: "0.0.0.0",
			Port:    9001,
			Workers: 10,
		},
		Log: Log{
			Level:  zerolog.InfoLevel,
			Pretty: false,
		},
		Kafka: Kafka{
			Topic: "matchbook.trades",
		},
	}
}

// Load reads configuration from defaults, an optional .env file and the
// environment. Priority: ENV > .env file > defaults. A missing .env file is
// not an error; a malformed value is.
func Load(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("loading %s: %w", envPath, err)
		}
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v, ok := lookup("ADDRESS"); ok {
		cfg.Server.Address = v
	}
	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return cfg, fmt.Errorf("invalid %sPORT %q", envPrefix, v)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup("WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid %sWORKERS %q", envPrefix, v)
		}
		cfg.Server.Workers = n
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		level, err := zerolog.ParseLevel(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %sLOG_LEVEL: %w", envPrefix, err)
		}
		cfg.Log.Level = level
	}
	if v, ok := lookup("LOG_PRETTY"); ok {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %sLOG_PRETTY: %w", envPrefix, err)
		}
		cfg.Log.Pretty = pretty
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("KAFKA_TOPIC"); ok {
		cfg.Kafka.Topic = v
	}

	return cfg, nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
