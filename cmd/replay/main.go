package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/pipeline"
	"main/internal/recorder"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/series"
)

const sourceReplay uint16 = 9

func main() {
	dir := flag.String("dir", "", "Journal directory to replay")
	prefix := flag.String("prefix", "", "Journal file prefix (default: events)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	useRecv := flag.Bool("use-recv-time", false, "Pace by receive timestamp")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	configPath := flag.String("config", "", "Optional JSON config for granularities and registry")
	snapshotOut := flag.String("snapshot-out", "", "Write recovered positions to this path")
	flag.Parse()

	if *dir == "" {
		log.Fatalf("dir is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		seriesCfg series.Config
		pipeCfg   pipeline.Config
	)
	if *configPath != "" {
		loaded, err := ops.Load(*configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		seriesCfg = loaded.Series
		pipeCfg = loaded.Pipeline
	}
	pipeCfg.Source = sourceReplay

	metrics := obs.NewMetrics()
	events := bus.NewQueue(4096)
	store := series.NewStore(seriesCfg, metrics)
	book := risk.NewBook()
	router := pipeline.NewRouter(pipeCfg, store, events, metrics, nil)
	go router.Run(ctx)

	// Replayed events would loop back into the journal if recorded, so
	// the bus is drained and discarded.
	go events.Run(ctx, func(bus.Event) {})

	playback, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		Speed:           *speed,
		UseRecvTime:     *useRecv,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	var ticks, fills, skipped uint64
	start := time.Now()
	err = playback.Run(ctx, func(header schema.EventHeader, payload []byte) error {
		switch header.Type {
		case schema.EventTick:
			tick, ok := codec.DecodeTick(payload)
			if !ok {
				skipped++
				return nil
			}
			tick.Flags |= schema.TickFlagReplayed
			// A saturated shard only needs time during replay; resend
			// until it drains.
			for router.Submit(tick) != nil {
				time.Sleep(time.Millisecond)
			}
			ticks++
		case schema.EventFill:
			fill, ok := codec.DecodeFill(payload)
			if !ok {
				skipped++
				return nil
			}
			book.ApplyRecorded(fill, header.Seq)
			fills++
		default:
			skipped++
		}
		return nil
	})
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	router.Quiesce(5 * time.Second)
	snap := metrics.Snapshot()
	logs.Infof("replayed %d ticks, %d fills, %d skipped in %s", ticks, fills, skipped, time.Since(start).Round(time.Millisecond))
	logs.Infof("late=%d amendments=%d quarantines=%d evicted=%d",
		snap.LateArrivals, snap.Amendments, snap.Quarantines, snap.EvictedWindows)

	if *snapshotOut != "" {
		if err := risk.WriteSnapshot(*snapshotOut, book.Snapshot(time.Now().UnixNano())); err != nil {
			log.Fatalf("snapshot write failed: %v", err)
		}
		logs.Infof("positions written to %s", *snapshotOut)
	}
}
