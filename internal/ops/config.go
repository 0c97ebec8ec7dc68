package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"main/internal/archive"
	"main/internal/broadcast"
	"main/internal/ingest"
	"main/internal/pipeline"
	"main/internal/predict"
	"main/internal/recorder"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/series"
	"main/internal/server"
	"main/pkg/conn"
)

// Duration parses JSON duration strings like "250ms" or "1m".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) std() time.Duration {
	return time.Duration(d)
}

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Registry  RegistryConfig  `json:"registry"`
	Feed      FeedConfig      `json:"feed"`
	Ingest    IngestConfig    `json:"ingest"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Series    SeriesConfig    `json:"series"`
	Risk      RiskConfig      `json:"risk"`
	Predict   PredictConfig   `json:"predict"`
	Fills     FillsConfig     `json:"fills"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Server    ServerConfig    `json:"server"`
	Journal   JournalConfig   `json:"journal"`
	Archive   ArchiveConfig   `json:"archive"`
}

// RegistryConfig defines feed and instrument mappings.
type RegistryConfig struct {
	Feeds       []FeedEntry       `json:"feeds"`
	Instruments []InstrumentEntry `json:"instruments"`
}

// FeedEntry describes one market data source.
type FeedEntry struct {
	Name string `json:"name"`
}

// InstrumentEntry describes one instrument entry.
type InstrumentEntry struct {
	Symbol        string `json:"symbol"`
	Feed          string `json:"feed"`
	PriceScale    int32  `json:"priceScale"`
	QuantityScale int32  `json:"quantityScale"`
	NotionalScale int32  `json:"notionalScale"`
}

// FeedConfig points at the upstream websocket feed.
type FeedConfig struct {
	URL     string   `json:"url"`
	Symbols []string `json:"symbols"`
}

// IngestConfig maps to ingest.Config.
type IngestConfig struct {
	MaxClockSkew  Duration `json:"maxClockSkew"`
	LateTolerance Duration `json:"lateTolerance"`
	DedupDepth    int      `json:"dedupDepth"`
}

// PipelineConfig maps to pipeline.Config.
type PipelineConfig struct {
	Shards        int        `json:"shards"`
	QueueDepth    int        `json:"queueDepth"`
	Granularities []Duration `json:"granularities"`
	MaxGapFill    int        `json:"maxGapFill"`
}

// SeriesConfig maps to series.Config.
type SeriesConfig struct {
	RetentionHorizon Duration `json:"retentionHorizon"`
	AmendTolerance   Duration `json:"amendTolerance"`
	SweepInterval    Duration `json:"sweepInterval"`
}

// RiskConfig maps to risk.Config; basket entries are symbols.
type RiskConfig struct {
	Lambda        float64  `json:"lambda"`
	SampleWindow  int      `json:"sampleWindow"`
	ZScore        float64  `json:"zScore"`
	LowSampleCap  float64  `json:"lowSampleCap"`
	HistoryDepth  int      `json:"historyDepth"`
	Granularity   Duration `json:"granularity"`
	NotionalScale int32    `json:"notionalScale"`
	Basket        []string `json:"basket"`
	MaxExposure   int64    `json:"maxExposure"`
	MaxVaR        int64    `json:"maxVaR"`
}

// PredictConfig maps to predict.Config plus the sidecar socket.
type PredictConfig struct {
	Socket         string   `json:"socket"`
	Workers        int      `json:"workers"`
	QueueDepth     int      `json:"queueDepth"`
	MaxInFlight    int      `json:"maxInFlight"`
	CallTimeout    Duration `json:"callTimeout"`
	ResultTTL      Duration `json:"resultTtl"`
	ScoreThreshold float64  `json:"scoreThreshold"`
}

// FillsConfig locates the execution-feed socket.
type FillsConfig struct {
	Socket string `json:"socket"`
}

// BroadcastConfig maps to broadcast.Config.
type BroadcastConfig struct {
	QueueCapacity int `json:"queueCapacity"`
}

// ServerConfig maps to server.Config.
type ServerConfig struct {
	Addr         string   `json:"addr"`
	WriteTimeout Duration `json:"writeTimeout"`
	PingInterval Duration `json:"pingInterval"`
}

// JournalConfig maps to recorder.Config.
type JournalConfig struct {
	Enabled            bool     `json:"enabled"`
	Dir                string   `json:"dir"`
	SegmentMaxBytes    int64    `json:"segmentMaxBytes"`
	SegmentMaxDuration Duration `json:"segmentMaxDuration"`
	QueueSize          int      `json:"queueSize"`
	FlushInterval      Duration `json:"flushInterval"`
	SyncInterval       Duration `json:"syncInterval"`
}

// ArchiveConfig maps to archive.Config plus the Postgres connection.
type ArchiveConfig struct {
	Enabled       bool     `json:"enabled"`
	BatchSize     int      `json:"batchSize"`
	FlushInterval Duration `json:"flushInterval"`
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	User          string   `json:"user"`
	Password      string   `json:"password"`
	Database      string   `json:"database"`
	SSLMode       string   `json:"sslMode"`
}

// EnvOverrides are deployment knobs applied on top of the file.
type EnvOverrides struct {
	FeedURL        string `env:"FEED_URL"`
	ServerAddr     string `env:"SERVER_ADDR"`
	JournalDir     string `env:"JOURNAL_DIR"`
	JournalEnabled *bool  `env:"JOURNAL_ENABLED"`
	ArchiveEnabled *bool  `env:"ARCHIVE_ENABLED"`
	PredictSocket  string `env:"PREDICT_SOCKET"`
	FillsSocket    string `env:"FILLS_SOCKET"`
	PgHost         string `env:"PG_HOST"`
	PgPort         int    `env:"PG_PORT"`
	PgUser         string `env:"PG_USER"`
	PgPassword     string `env:"PG_PASSWORD"`
	PgDatabase     string `env:"PG_DATABASE"`
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	Registry    *schema.Registry
	Feed        FeedConfig
	Ingest      ingest.Config
	Pipeline    pipeline.Config
	Series      series.Config
	Risk        risk.Config
	Predict     predict.Config
	Socket      string
	FillsSocket string
	Broadcast   broadcast.Config
	Server      server.Config
	Journal     recorder.Config
	JournalOn   bool
	Archive     archive.Config
	ArchiveOn   bool
	Postgres    conn.Option
}

// Load reads a JSON config file, applies ENGINE_* environment
// overrides, and resolves symbol references against the registry.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}

	var overrides EnvOverrides
	if err := env.ParseWithOptions(&overrides, env.Options{Prefix: "ENGINE_"}); err != nil {
		return Loaded{}, err
	}
	applyOverrides(&cfg, overrides)

	return resolve(cfg)
}

func applyOverrides(cfg *FileConfig, o EnvOverrides) {
	if o.FeedURL != "" {
		cfg.Feed.URL = o.FeedURL
	}
	if o.ServerAddr != "" {
		cfg.Server.Addr = o.ServerAddr
	}
	if o.JournalDir != "" {
		cfg.Journal.Dir = o.JournalDir
	}
	if o.JournalEnabled != nil {
		cfg.Journal.Enabled = *o.JournalEnabled
	}
	if o.ArchiveEnabled != nil {
		cfg.Archive.Enabled = *o.ArchiveEnabled
	}
	if o.PredictSocket != "" {
		cfg.Predict.Socket = o.PredictSocket
	}
	if o.FillsSocket != "" {
		cfg.Fills.Socket = o.FillsSocket
	}
	if o.PgHost != "" {
		cfg.Archive.Host = o.PgHost
	}
	if o.PgPort != 0 {
		cfg.Archive.Port = o.PgPort
	}
	if o.PgUser != "" {
		cfg.Archive.User = o.PgUser
	}
	if o.PgPassword != "" {
		cfg.Archive.Password = o.PgPassword
	}
	if o.PgDatabase != "" {
		cfg.Archive.Database = o.PgDatabase
	}
}

func resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}

	riskCfg, err := resolveRisk(cfg.Risk, registry)
	if err != nil {
		return Loaded{}, err
	}

	granularities := make([]schema.Granularity, 0, len(cfg.Pipeline.Granularities))
	for _, g := range cfg.Pipeline.Granularities {
		if g <= 0 {
			return Loaded{}, fmt.Errorf("granularity must be > 0")
		}
		granularities = append(granularities, schema.Granularity(g))
	}

	loaded := Loaded{
		Registry: registry,
		Feed:     cfg.Feed,
		Ingest: ingest.Config{
			MaxClockSkew:  cfg.Ingest.MaxClockSkew.std(),
			LateTolerance: cfg.Ingest.LateTolerance.std(),
			DedupDepth:    cfg.Ingest.DedupDepth,
		},
		Pipeline: pipeline.Config{
			Shards:        cfg.Pipeline.Shards,
			QueueDepth:    cfg.Pipeline.QueueDepth,
			Granularities: granularities,
			MaxGapFill:    cfg.Pipeline.MaxGapFill,
		},
		Series: series.Config{
			RetentionHorizon: cfg.Series.RetentionHorizon.std(),
			AmendTolerance:   cfg.Series.AmendTolerance.std(),
			SweepInterval:    cfg.Series.SweepInterval.std(),
		},
		Risk: riskCfg,
		Predict: predict.Config{
			Workers:        cfg.Predict.Workers,
			QueueDepth:     cfg.Predict.QueueDepth,
			MaxInFlight:    cfg.Predict.MaxInFlight,
			CallTimeout:    cfg.Predict.CallTimeout.std(),
			ResultTTL:      cfg.Predict.ResultTTL.std(),
			ScoreThreshold: cfg.Predict.ScoreThreshold,
		},
		Socket:      cfg.Predict.Socket,
		FillsSocket: cfg.Fills.Socket,
		Broadcast: broadcast.Config{
			QueueCapacity: cfg.Broadcast.QueueCapacity,
		},
		Server: server.Config{
			Addr:         cfg.Server.Addr,
			WriteTimeout: cfg.Server.WriteTimeout.std(),
			PingInterval: cfg.Server.PingInterval.std(),
		},
		Journal: recorder.Config{
			Dir:                cfg.Journal.Dir,
			SegmentMaxBytes:    cfg.Journal.SegmentMaxBytes,
			SegmentMaxDuration: cfg.Journal.SegmentMaxDuration.std(),
			QueueSize:          cfg.Journal.QueueSize,
			FlushInterval:      cfg.Journal.FlushInterval.std(),
			SyncInterval:       cfg.Journal.SyncInterval.std(),
		},
		JournalOn: cfg.Journal.Enabled,
		Archive: archive.Config{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval.std(),
		},
		ArchiveOn: cfg.Archive.Enabled,
		Postgres: conn.Option{
			Host:     cfg.Archive.Host,
			Port:     cfg.Archive.Port,
			User:     cfg.Archive.User,
			Password: cfg.Archive.Password,
			Database: cfg.Archive.Database,
			SSLMode:  cfg.Archive.SSLMode,
		},
	}
	return loaded, nil
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, feed := range cfg.Feeds {
		if _, err := reg.AddFeed(feed.Name); err != nil {
			return nil, err
		}
	}
	for _, inst := range cfg.Instruments {
		feedID, ok := reg.FeedIDByName(inst.Feed)
		if !ok {
			return nil, fmt.Errorf("feed not found: %s", inst.Feed)
		}
		if inst.PriceScale < 0 || inst.QuantityScale < 0 || inst.NotionalScale < 0 {
			return nil, fmt.Errorf("invalid scale for %s: must be >= 0", inst.Symbol)
		}
		spec := schema.ScaleSpec{
			PriceScale:    schema.Scale(inst.PriceScale),
			QuantityScale: schema.Scale(inst.QuantityScale),
			NotionalScale: schema.Scale(inst.NotionalScale),
		}
		if _, err := reg.AddInstrument(inst.Symbol, feedID, spec); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func resolveRisk(cfg RiskConfig, reg *schema.Registry) (risk.Config, error) {
	basket := make([]schema.InstrumentID, 0, len(cfg.Basket))
	for _, symbol := range cfg.Basket {
		id, ok := reg.InstrumentIDBySymbol(symbol)
		if !ok {
			return risk.Config{}, fmt.Errorf("basket symbol not found: %s", symbol)
		}
		basket = append(basket, id)
	}
	return risk.Config{
		Lambda:        cfg.Lambda,
		SampleWindow:  cfg.SampleWindow,
		ZScore:        cfg.ZScore,
		LowSampleCap:  cfg.LowSampleCap,
		HistoryDepth:  cfg.HistoryDepth,
		Granularity:   schema.Granularity(cfg.Granularity),
		NotionalScale: schema.Scale(cfg.NotionalScale),
		Basket:        basket,
		MaxExposure:   schema.Notional(cfg.MaxExposure),
		MaxVaR:        schema.Notional(cfg.MaxVaR),
	}, nil
}
