package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type RaceConf struct {
	MaxPlayers         int           `env:"RACE_MAX_PLAYERS" envDefault:"10"`
	MinPlayers         int           `env:"RACE_MIN_PLAYERS" envDefault:"2"`
	RegisterTimeout    time.Duration `env:"RACE_REGISTER_TIMEOUT" envDefault:"15m"`
	CountdownSeconds   int           `env:"RACE_COUNTDOWN_SECONDS" envDefault:"5"`
	WebsocketReadLimit int64         `env:"RACE_WEBSOCKET_READ_LIMIT" envDefault:"4096"`
	ParagraphWords     int           `env:"RACE_PARAGRAPH_WORDS" envDefault:"60"`
	ExtensionWords     int           `env:"RACE_EXTENSION_WORDS" envDefault:"30"`
	ProgressRateLimit  int           `env:"RACE_PROGRESS_RATE_LIMIT" envDefault:"30"`
	ProgressRateWindow time.Duration `env:"RACE_PROGRESS_RATE_WINDOW" envDefault:"1s"`
}

type Config struct {
	Addr      string `env:"LISTEN_ADDR" envDefault:":8080"`
	JWTSecret []byte `env:"JWT_SECRET"`
	Race      RaceConf
}

// LoadConfig reads the optional .env file and parses the environment.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return Config{}, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
