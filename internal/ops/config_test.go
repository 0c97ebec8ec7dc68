package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

const testConfig = `{
	"registry": {
		"feeds": [{"name": "sim"}],
		"instruments": [
			{"symbol": "AAPL", "feed": "sim", "priceScale": 2, "notionalScale": 2},
			{"symbol": "MSFT", "feed": "sim", "priceScale": 2, "notionalScale": 2}
		]
	},
	"feed": {"url": "ws://localhost:9001/feed", "symbols": ["AAPL", "MSFT"]},
	"ingest": {"maxClockSkew": "5s", "lateTolerance": "2s", "dedupDepth": 64},
	"pipeline": {"shards": 4, "queueDepth": 1024, "granularities": ["1s", "1m", "1h"]},
	"series": {"retentionHorizon": "24h", "amendTolerance": "5s"},
	"risk": {
		"granularity": "1m",
		"notionalScale": 2,
		"basket": ["AAPL"],
		"maxExposure": 100000000
	},
	"predict": {"socket": "/tmp/scorer.sock", "workers": 2, "resultTtl": "1s"},
	"fills": {"socket": "/tmp/fills.sock"},
	"broadcast": {"queueCapacity": 256},
	"server": {"addr": ":9000"},
	"journal": {"enabled": true, "dir": "/var/lib/engine/journal", "segmentMaxDuration": "5m"},
	"archive": {"enabled": false, "host": "db", "database": "engine"}
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadResolvesConfig(t *testing.T) {
	loaded, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	id, ok := loaded.Registry.InstrumentIDBySymbol("AAPL")
	require.True(t, ok)
	inst, ok := loaded.Registry.Instrument(id)
	require.True(t, ok)
	assert.Equal(t, schema.Scale(2), inst.Scale.PriceScale)

	assert.Equal(t, 5*time.Second, loaded.Ingest.MaxClockSkew)
	assert.Equal(t, 2*time.Second, loaded.Ingest.LateTolerance)
	assert.Equal(t, 4, loaded.Pipeline.Shards)
	assert.Equal(t, []schema.Granularity{
		schema.Granularity(time.Second),
		schema.Granularity(time.Minute),
		schema.Granularity(time.Hour),
	}, loaded.Pipeline.Granularities)
	assert.Equal(t, 24*time.Hour, loaded.Series.RetentionHorizon)
	assert.Equal(t, []schema.InstrumentID{id}, loaded.Risk.Basket)
	assert.Equal(t, schema.Notional(100000000), loaded.Risk.MaxExposure)
	assert.Equal(t, "/tmp/scorer.sock", loaded.Socket)
	assert.Equal(t, "/tmp/fills.sock", loaded.FillsSocket)
	assert.Equal(t, time.Second, loaded.Predict.ResultTTL)
	assert.Equal(t, ":9000", loaded.Server.Addr)
	assert.True(t, loaded.JournalOn)
	assert.False(t, loaded.ArchiveOn)
	assert.Equal(t, "db", loaded.Postgres.Host)
	assert.Equal(t, "ws://localhost:9001/feed", loaded.Feed.URL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENGINE_FEED_URL", "ws://prod:9001/feed")
	t.Setenv("ENGINE_SERVER_ADDR", ":8443")
	t.Setenv("ENGINE_JOURNAL_ENABLED", "false")
	t.Setenv("ENGINE_FILLS_SOCKET", "/run/fills.sock")
	t.Setenv("ENGINE_PG_HOST", "pg.internal")
	t.Setenv("ENGINE_PG_PORT", "5433")

	loaded, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "ws://prod:9001/feed", loaded.Feed.URL)
	assert.Equal(t, ":8443", loaded.Server.Addr)
	assert.False(t, loaded.JournalOn)
	assert.Equal(t, "/run/fills.sock", loaded.FillsSocket)
	assert.Equal(t, "pg.internal", loaded.Postgres.Host)
	assert.Equal(t, 5433, loaded.Postgres.Port)
}

func TestLoadRejectsUnknownReferences(t *testing.T) {
	cases := []struct {
		name   string
		mutate string
	}{
		{"unknown feed", `{"registry": {"feeds": [{"name": "sim"}], "instruments": [{"symbol": "AAPL", "feed": "other"}]}}`},
		{"unknown basket symbol", `{"registry": {"feeds": [{"name": "sim"}], "instruments": [{"symbol": "AAPL", "feed": "sim"}]}, "risk": {"basket": ["TSLA"]}}`},
		{"negative scale", `{"registry": {"feeds": [{"name": "sim"}], "instruments": [{"symbol": "AAPL", "feed": "sim", "priceScale": -1}]}}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, c.mutate))
			assert.Error(t, err)
		})
	}
}

func TestDurationParsing(t *testing.T) {
	_, err := Load(writeConfig(t, `{"ingest": {"maxClockSkew": "not-a-duration"}}`))
	assert.Error(t, err)
}
