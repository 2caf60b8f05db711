package cmd

import (
	"os"
	"strconv"
	"strings"
)

// envSet reports whether key is present with a non-blank value
func envSet(key string) bool {
	return strings.TrimSpace(os.Getenv(key)) != ""
}

func getEnvString(key, defaultVal string) string {
	if envSet(key) {
		return strings.TrimSpace(os.Getenv(key))
	}
	return defaultVal
}

// getEnvBool accepts strconv booleans plus yes/no
func getEnvBool(key string, defaultVal bool) bool {
	if !envSet(key) {
		return defaultVal
	}
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	if b, err := strconv.ParseBool(val); err == nil {
		return b
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if envSet(key) {
		if i, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if envSet(key) {
		if f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil {
			return f
		}
	}
	return defaultVal
}
