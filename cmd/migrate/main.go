package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cassiomorais/onramp/internal/infrastructure/config"
	"github.com/cassiomorais/onramp/internal/repository/postgres"
)

func main() {
	var (
		direction string
		dbURL     string
	)

	flag.StringVar(&direction, "direction", "up", "Migration direction: up or down")
	flag.StringVar(&dbURL, "db", "", "Database URL (or set DATABASE_URL env var)")
	flag.Parse()

	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		dbURL = cfg.Database.DatabaseURL()
	}

	if err := postgres.Migrate(dbURL, postgres.Direction(direction)); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", direction, err)
		os.Exit(1)
	}
	fmt.Printf("Migrations %s applied successfully\n", direction)
}
