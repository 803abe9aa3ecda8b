package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/CedrosPay/acquisim/internal/callbacks"
	"github.com/CedrosPay/acquisim/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config yaml")
	dryRun := flag.Bool("dry-run", false, "list parked notifications without deleting them")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, closer, err := callbacks.NewDLQStore(ctx, cfg.Callbacks.DLQ, nil)
	if err != nil {
		log.Fatalf("open DLQ: %v", err)
	}
	defer closer.Close()
	if store == nil {
		log.Fatalf("DLQ backend %q keeps nothing to purge", cfg.Callbacks.DLQ.Backend)
	}

	fmt.Printf("✓ Connected to %s DLQ\n", cfg.Callbacks.DLQ.Backend)

	parked, err := store.ListFailedWebhooks(ctx, 0)
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	for _, w := range parked {
		fmt.Printf("  %s  %s  attempts=%d  %s\n", w.ID, w.URL, w.Attempts, w.LastError)
		if *dryRun {
			continue
		}
		if err := store.DeleteFailedWebhook(ctx, w.ID); err != nil {
			log.Fatalf("delete %s: %v", w.ID, err)
		}
	}

	if *dryRun {
		fmt.Printf("%d parked notifications (dry run)\n", len(parked))
		return
	}
	fmt.Printf("✓ Purged %d parked notifications\n", len(parked))
}
