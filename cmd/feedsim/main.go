package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/feedsim"
	"main/internal/ops"
)

func main() {
	addr := flag.String("addr", ":9001", "Listen address")
	symbols := flag.String("symbols", "AAPL,MSFT", "Comma-separated symbols to serve")
	configPath := flag.String("config", "", "Optional JSON config; its registry symbols override -symbols")
	interval := flag.Duration("interval", 100*time.Millisecond, "Delay between trades per connection")
	basePrice := flag.Int64("base-price", 10000, "Starting price in scaled units")
	scale := flag.Int("scale", 2, "Decimal places in emitted prices")
	maxStep := flag.Int64("max-step", 10, "Max walk step in scaled units")
	maxSize := flag.Int64("max-size", 100, "Max trade size")
	seed := flag.Int64("seed", 0, "Random seed (0=clock)")
	chaosDrop := flag.Float64("chaos-drop", 0, "Fraction of trades to drop")
	chaosDup := flag.Float64("chaos-dup", 0, "Fraction of trades to duplicate")
	chaosLate := flag.Float64("chaos-late", 0, "Fraction of trades to stamp late")
	chaosLateness := flag.Duration("chaos-max-lateness", 5*time.Second, "Max lateness for late trades")
	flag.Parse()

	served := splitSymbols(*symbols)
	if *configPath != "" {
		loaded, err := ops.Load(*configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		if len(loaded.Feed.Symbols) > 0 {
			served = loaded.Feed.Symbols
		}
	}
	if len(served) == 0 {
		log.Fatalf("no symbols to serve")
	}

	srv := feedsim.NewServer(feedsim.ServerConfig{
		Addr:     *addr,
		Interval: *interval,
		Ticks: feedsim.Config{
			Symbols:   served,
			BasePrice: *basePrice,
			Scale:     *scale,
			MaxStep:   *maxStep,
			MaxSize:   *maxSize,
			Seed:      *seed,
		},
		Chaos: feedsim.ChaosConfig{
			Seed:          *seed,
			DropRate:      *chaosDrop,
			DuplicateRate: *chaosDup,
			LateRate:      *chaosLate,
			MaxLateness:   *chaosLateness,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil {
		logs.Errorf("feed simulator failed, %+v", err)
		os.Exit(1)
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
