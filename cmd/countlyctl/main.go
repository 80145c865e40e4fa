package main

import (
	"errors"
	"os"

	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/joho/godotenv"
)

var version = "unknown"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		telemetry.WithError(err).Warn("Failed to load .env file")
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
