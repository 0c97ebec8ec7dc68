package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/archive"
	"main/internal/broadcast"
	"main/internal/bus"
	"main/internal/codec"
	"main/internal/ingest"
	"main/internal/ingest/feedws"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/pipeline"
	"main/internal/predict"
	"main/internal/recorder"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/series"
	"main/internal/server"
	"main/pkg/conn"
	"main/pkg/uds"
)

const (
	sourceFeed uint16 = iota + 1
	sourcePipeline
	sourceRisk
	sourcePredict
	sourceFills
)

// windowObservers fans closed windows out to every interested stage.
type windowObservers []pipeline.WindowObserver

func (o windowObservers) OnWindowClosed(w schema.Window) {
	for _, observer := range o {
		observer.OnWindowClosed(w)
	}
}

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	profile := flag.Bool("profile", false, "Enable pyroscope profiling")
	snapshotPath := flag.String("snapshot-path", "", "Position snapshot output (default: <journal-dir>/positions.json)")
	recoverEnabled := flag.Bool("recover", false, "Recover positions from snapshot + journal")
	recoverNoChecksum := flag.Bool("recover-no-checksum", false, "Disable checksum validation for recovery")
	busDepth := flag.Int("bus-depth", 4096, "Event bus queue depth")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *profile {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "market-engine",
			ServerAddress:   "http://localhost:4040",
			Tags: map[string]string{
				"env": "local",
			},
			Logger: emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	metrics := obs.NewMetrics()
	events := bus.NewQueue(*busDepth)
	store := series.NewStore(loaded.Series, metrics)

	book := risk.NewBook()
	snapPath := resolveSnapshotPath(loaded.Journal.Dir, *snapshotPath)
	if *recoverEnabled {
		if err := recoverBook(book, snapPath, loaded.Journal.Dir, *recoverNoChecksum); err != nil {
			log.Fatalf("position recovery failed: %v", err)
		}
	}
	riskEngine := risk.NewEngine(loaded.Risk, book, store, loaded.Registry, events, metrics, sourceRisk)

	observers := windowObservers{riskEngine}

	var bridge *predict.Bridge
	if loaded.Socket != "" {
		scorer, err := predict.NewSidecarClient(loaded.Socket)
		if err != nil {
			log.Fatalf("scorer sidecar init failed: %v", err)
		}
		bridge = predict.NewBridge(loaded.Predict, scorer, events, metrics)
		observers = append(observers, bridge)
	} else {
		logs.Warnf("no scorer socket configured, predictions disabled")
	}

	pipeCfg := loaded.Pipeline
	pipeCfg.Source = sourcePipeline
	router := pipeline.NewRouter(pipeCfg, store, events, metrics, observers)

	ing := ingest.NewIngestor(loaded.Ingest, loaded.Registry, metrics, router, sourceFeed)

	var journal *recorder.Writer
	if loaded.JournalOn {
		journal, err = recorder.NewWriter(loaded.Journal)
		if err != nil {
			log.Fatalf("journal init failed: %v", err)
		}
		if err := journal.Start(ctx); err != nil {
			log.Fatalf("journal start failed: %v", err)
		}
		ing.WithJournal(journal, func(t schema.Tick) []byte {
			return codec.EncodeTick(nil, t)
		})
	}

	if loaded.FillsSocket != "" {
		fillSrv, err := uds.NewServer(loaded.FillsSocket)
		if err != nil {
			log.Fatalf("fill socket init failed: %v", err)
		}
		intake := risk.NewIntake(loaded.Registry, book, events, metrics, sourceFills)
		if journal != nil {
			intake.WithJournal(journal)
		}
		go func() {
			if err := intake.Serve(ctx, fillSrv); err != nil {
				logs.Errorf("fill intake failed, %+v", err)
			}
		}()
	} else {
		logs.Warnf("no fill socket configured, positions frozen at startup state")
	}

	caster := broadcast.NewBroadcaster(loaded.Broadcast, metrics)
	go caster.Consume(ctx, events)

	var archiver *archive.Archiver
	if loaded.ArchiveOn {
		client, err := conn.New(loaded.Postgres)
		if err != nil {
			log.Fatalf("postgres connect failed: %v", err)
		}
		defer client.Close()

		archiver, err = archive.New(client.DB(), loaded.Archive)
		if err != nil {
			log.Fatalf("archive init failed: %v", err)
		}
		if err := runArchiver(ctx, archiver, caster, loaded.Archive.FlushInterval); err != nil {
			log.Fatalf("archive subscribe failed: %v", err)
		}
	}

	sweep := series.NewSweep(store)
	go sweep.Run(ctx)
	go router.Run(ctx)
	if bridge != nil {
		go bridge.Run(ctx)
	}

	feed := feedws.NewPub(ctx, loaded.Feed.URL)
	if err := feed.StartWebsocket(ctx); err != nil {
		log.Fatalf("feed connect failed: %v", err)
	}
	if err := feed.SubscribeTrades(ctx, loaded.Feed.Symbols); err != nil {
		log.Fatalf("feed subscribe failed: %v", err)
	}
	unsubscribe := feed.ObserveTrades(ctx, ing)
	defer unsubscribe()

	srv := server.New(loaded.Server, caster)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logs.Errorf("stream server failed, %+v", err)
		}
	}()

	<-ctx.Done()
	logs.Infof("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	feed.Close()
	router.Quiesce(5 * time.Second)
	caster.Close()
	if archiver != nil {
		archiver.Flush()
	}
	if journal != nil {
		if err := journal.Close(); err != nil {
			logs.Errorf("journal close failed, %+v", err)
		}
	}
	if err := risk.WriteSnapshot(snapPath, book.Snapshot(time.Now().UnixNano())); err != nil {
		logs.Errorf("position snapshot failed, %+v", err)
	}
}

// runArchiver feeds the archiver from its own subscription so a slow
// database never stalls other subscribers.
func runArchiver(ctx context.Context, archiver *archive.Archiver, caster *broadcast.Broadcaster, flushInterval time.Duration) error {
	sub, err := caster.Subscribe(broadcast.Filter{
		Kinds: []schema.EventType{
			schema.EventWindowClosed,
			schema.EventWindowAmended,
			schema.EventRiskSnapshot,
		},
	})
	if err != nil {
		return err
	}

	go func() {
		for {
			e, ok := sub.Next()
			if !ok {
				return
			}
			archiver.Observe(e)
		}
	}()

	go func() {
		if flushInterval <= 0 {
			flushInterval = time.Second
		}
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				archiver.Flush()
			}
		}
	}()
	return nil
}

func recoverBook(book *risk.Book, snapshotPath, journalDir string, noChecksum bool) error {
	snap, err := risk.ReadSnapshot(snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			logs.Warnf("no position snapshot at %s, starting flat", snapshotPath)
			snap = risk.BookSnapshot{}
		} else {
			return err
		}
	}

	src, err := recorder.NewDirReader(journalDir, "", recorder.ReaderOptions{DisableChecksum: noChecksum})
	if err != nil {
		if os.IsNotExist(err) {
			book.ApplySnapshot(snap)
			return nil
		}
		return err
	}
	defer src.Close()

	applied, err := risk.Recover(book, snap, src)
	if err != nil {
		return err
	}
	logs.Infof("recovered %d positions, %d journal fills applied", len(snap.Positions), applied)
	return nil
}

func resolveSnapshotPath(dir, override string) string {
	if override != "" {
		return override
	}
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "positions.json")
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
