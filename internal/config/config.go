// Package config loads the watcher configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config is the environment-supplied configuration for the watcher CLI.
type Config struct {
	// Backend origin and realtime endpoint.
	APIURL    string
	SocketURL string

	// Area of interest.
	RadiusMeters int
	Latitude     float64
	Longitude    float64

	// Optional credentials. When empty, the watcher runs unauthenticated.
	Email    string
	Password string

	// Where the session token and last coordinates persist between runs.
	StateFile string

	LogLevel string
}

// Load reads configuration from the environment. A missing .env file is
// not an error.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Could not load .env file")
	}

	return &Config{
		APIURL:       getEnv("CHOOKEYE_API_URL", "http://localhost:3000"),
		SocketURL:    getEnv("CHOOKEYE_SOCKET_URL", ""),
		RadiusMeters: getEnvAsInt("CHOOKEYE_RADIUS", 1000),
		Latitude:     getEnvAsFloat("CHOOKEYE_LATITUDE", 0),
		Longitude:    getEnvAsFloat("CHOOKEYE_LONGITUDE", 0),
		Email:        getEnv("CHOOKEYE_EMAIL", ""),
		Password:     getEnv("CHOOKEYE_PASSWORD", ""),
		StateFile:    getEnv("CHOOKEYE_STATE_FILE", defaultStateFile()),
		LogLevel:     getEnv("CHOOKEYE_LOG_LEVEL", "info"),
	}
}

// HasCoordinates reports whether a starting position was configured.
func (c *Config) HasCoordinates() bool {
	return c.Latitude != 0 || c.Longitude != 0
}

func defaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chookeye-state.json"
	}
	return filepath.Join(home, ".chookeye", "state.json")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
