// Command analyze_thresholds reports realized win rates by authorized
// confidence bucket, per pair, against the live threshold stored in the
// database. Use it to sanity-check whether the optimizer's thresholds
// sit near the confidence band where outcomes actually turn profitable.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/database"
	"forex-signal-engine/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	bucketSize := flag.Float64("bucket", 5, "confidence bucket width in percent")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(&logging.Config{Level: "WARN"})

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	ctx := context.Background()

	states, err := repo.ListThresholdStates(ctx)
	if err != nil {
		fmt.Printf("Failed to load threshold states: %v\n", err)
		os.Exit(1)
	}
	thresholds := make(map[string]float64, len(states))
	for _, s := range states {
		thresholds[s.Pair] = s.MinConfidence
	}

	buckets, err := repo.OutcomesByConfidence(ctx, *bucketSize)
	if err != nil {
		fmt.Printf("Failed to query outcome buckets: %v\n", err)
		os.Exit(1)
	}

	if len(buckets) == 0 {
		fmt.Println("No authorized executions with confirmed outcomes found.")
		return
	}

	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("WIN RATE BY CONFIDENCE BUCKET")
	fmt.Println(strings.Repeat("=", 72))

	currentPair := ""
	for _, b := range buckets {
		if b.Pair != currentPair {
			currentPair = b.Pair
			fmt.Printf("\n%s", currentPair)
			if t, ok := thresholds[currentPair]; ok {
				fmt.Printf("  (live threshold: %.1f)", t)
			}
			fmt.Println()
			fmt.Printf("  %-14s %8s %8s %8s\n", "confidence", "trades", "wins", "win%")
		}

		total := b.Wins + b.Losses
		winRate := 0.0
		if total > 0 {
			winRate = float64(b.Wins) / float64(total) * 100
		}

		marker := ""
		if t, ok := thresholds[b.Pair]; ok && b.BucketLo <= t && t < b.BucketLo+*bucketSize {
			marker = "  <- threshold"
		}

		fmt.Printf("  [%5.1f-%5.1f) %8d %8d %7.1f%%%s\n",
			b.BucketLo, b.BucketLo+*bucketSize, total, b.Wins, winRate, marker)
	}

	fmt.Println()
}
