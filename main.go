package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"polymirror/api"
	"polymirror/config"
	"polymirror/handlers"
	"polymirror/storage"
	"polymirror/syncer"
	"polymirror/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfg, _, err := config.Parse(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		fmt.Print(config.Usage())
		return
	}
	if err != nil {
		log.Fatalf("[Main] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[Main] config: %v", err)
	}

	client := api.NewClient()

	rctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	wallet, err := client.ResolveWallet(rctx, cfg.Source)
	cancel()
	if err != nil {
		log.Fatalf("[Main] source resolution failed: %v", err)
	}

	runID := uuid.NewString()
	banner(cfg, wallet, runID)

	var journal storage.Journal
	if cfg.JournalDSN != "" {
		jctx, jcancel := context.WithTimeout(context.Background(), 10*time.Second)
		j, err := storage.OpenJournal(jctx, cfg.JournalDSN)
		jcancel()
		if err != nil {
			log.Printf("[Main] journal disabled: %v", err)
		} else {
			journal = j
			defer j.Close()
		}
	}

	books := syncer.NewBookCache(client, cfg.BookTTLMs, cfg.BookHTTPFallback)
	placer := syncer.NewOrderPlacer(cfg.LiveExec)
	engine := syncer.NewEngine(cfg, wallet, runID, client, books, placer, journal)

	stream := api.NewMarketStream("", engine.HandleBook, engine.HandleLastTrade)
	engine.AttachStream(stream)

	if cfg.StatusPort > 0 {
		router := handlers.NewRouter(engine)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.StatusPort)
			log.Printf("[Main] status endpoint listening on %s", addr)
			if err := router.Run(addr); err != nil {
				log.Printf("[Main] status server stopped: %v", err)
			}
		}()
	}

	engine.Start(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.BenchmarkSeconds > 0 {
		select {
		case sig := <-sigCh:
			log.Printf("[Main] received %s, shutting down", sig)
		case <-time.After(time.Duration(cfg.BenchmarkSeconds) * time.Second):
			log.Printf("[Main] benchmark window of %ds elapsed, shutting down", cfg.BenchmarkSeconds)
		}
	} else {
		sig := <-sigCh
		log.Printf("[Main] received %s, shutting down", sig)
	}

	engine.Stop()
}

func banner(cfg config.Config, wallet, runID string) {
	sizing := fmt.Sprintf("fixed=$%.2f", cfg.FixedOrderUSDC)
	if cfg.SizeMode == config.SizePercent {
		sizing = fmt.Sprintf("percent scale=%.6f (%.2f/%.2f)", cfg.Scale(), cfg.MyBalanceUSDC, cfg.SourceBalanceUSDC)
	}
	cap := "off"
	if cfg.MaxOrderUSDC > 0 {
		cap = fmt.Sprintf("$%.2f", cfg.MaxOrderUSDC)
	}
	log.Printf("[Main] run=%s source=%s wallet=%s mode=%s profile=%s sizing=%s cap=%s",
		runID, cfg.Source, utils.ShortAddress(wallet), cfg.Mode, cfg.Profile, sizing, cap)
}
