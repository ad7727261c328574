package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jafarshop/ordertrack/internal/config"
	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/internal/repository/postgres"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run cmd/create-source/main.go <source-name> <api-key>")
		fmt.Println("Example: go run cmd/create-source/main.go \"storefront\" \"storefront-signal-key-12345\"")
		os.Exit(1)
	}

	sourceName := os.Args[1]
	apiKey := os.Args[2]

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	apiKeyHash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash API key: %v\n", err)
		os.Exit(1)
	}

	repos := postgres.NewRepositories(db, logger)

	source := &domain.SignalSource{
		Name:       sourceName,
		APIKeyHash: string(apiKeyHash),
		IsActive:   true,
	}
	if err := repos.SignalSource.Create(context.Background(), source); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create signal source: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Signal source created\n\n")
	fmt.Printf("Source ID:   %s\n", source.ID.String())
	fmt.Printf("Source Name: %s\n", source.Name)
	fmt.Printf("\nThe key is stored hashed and cannot be shown again. Send it as:\n")
	fmt.Printf("Authorization: Bearer %s\n", apiKey)
}
