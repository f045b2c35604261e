// The scheduler daemon watches a deployed recurring payments contract and
// executes entries as they come due.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/novix-pay/novix-go/pkg/config"
	"github.com/novix-pay/novix-go/pkg/ledger"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	session, backend, err := cfg.InitializeLedgerClient()
	if err != nil {
		log.Fatalf("Failed to initialize ledger client: %v", err)
	}

	client, err := ledger.NewContractClient(backend, session, cfg.LedgerContract)
	if err != nil {
		log.Fatalf("Failed to bind ledger contract: %v", err)
	}

	scanner := ledger.NewScanner(client, cfg.SchedulerPollEvery)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down scheduler...")
		cancel()
	}()

	log.Printf("Starting scheduler on %s (contract %s, executor %s, poll every %s)",
		cfg.LedgerNetwork, cfg.LedgerContract.Hex(), session.Address().Hex(), cfg.SchedulerPollEvery)

	if err := scanner.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Scanner stopped: %v", err)
	}

	log.Println("Scheduler exited")
}
