package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
)

func tickEvent(inst schema.InstrumentID, seq uint64) bus.Event {
	tick := schema.Tick{Instrument: inst, Price: 100, Volume: 1, Seq: seq}
	return bus.Event{
		Header:  schema.NewHeader(schema.EventTick, 1, inst, seq, 0, 0),
		Payload: codec.EncodeTick(nil, tick),
	}
}

func riskEvent(portfolio schema.PortfolioID, seq uint64) bus.Event {
	snap := schema.RiskSnapshot{Portfolio: portfolio}
	return bus.Event{
		Header:  schema.NewHeader(schema.EventRiskSnapshot, 1, 0, seq, 0, 0),
		Payload: codec.EncodeRiskSnapshot(nil, snap),
	}
}

func TestOverflowDeliversRecentPlusOneNotice(t *testing.T) {
	metrics := obs.NewMetrics()
	b := NewBroadcaster(Config{QueueCapacity: 5}, metrics)
	sub, err := b.Subscribe(Filter{})
	require.NoError(t, err)

	for seq := uint64(1); seq <= 10; seq++ {
		b.Publish(tickEvent(1, seq))
	}

	var seqs []uint64
	notices := 0
	for {
		e, ok := sub.TryNext()
		if !ok {
			break
		}
		switch e.Header.Type {
		case schema.EventTick:
			seqs = append(seqs, e.Header.Seq)
		case schema.EventAlert:
			alert, ok := codec.DecodeAlert(e.Payload)
			require.True(t, ok)
			assert.Equal(t, schema.AlertSubscriberOverflow, alert.Kind)
			assert.Equal(t, "dropped 5 events", alert.DetailString())
			notices++
		}
	}
	assert.Equal(t, []uint64{6, 7, 8, 9, 10}, seqs)
	assert.Equal(t, 1, notices)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(5), snap.SubscriberDrops)
	assert.Equal(t, uint64(1), snap.OverflowEpisodes)
}

func TestSecondEpisodeGetsItsOwnNotice(t *testing.T) {
	metrics := obs.NewMetrics()
	b := NewBroadcaster(Config{QueueCapacity: 2}, metrics)
	sub, err := b.Subscribe(Filter{})
	require.NoError(t, err)

	for seq := uint64(1); seq <= 3; seq++ {
		b.Publish(tickEvent(1, seq))
	}
	drainAll := func() (ticks, notices int) {
		for {
			e, ok := sub.TryNext()
			if !ok {
				return
			}
			if e.Header.Type == schema.EventTick {
				ticks++
			} else {
				notices++
			}
		}
	}
	ticks, notices := drainAll()
	assert.Equal(t, 2, ticks)
	assert.Equal(t, 1, notices)

	for seq := uint64(4); seq <= 6; seq++ {
		b.Publish(tickEvent(1, seq))
	}
	ticks, notices = drainAll()
	assert.Equal(t, 2, ticks)
	assert.Equal(t, 1, notices)
	assert.Equal(t, uint64(2), metrics.Snapshot().OverflowEpisodes)
}

func TestFilterByKindAndInstrument(t *testing.T) {
	b := NewBroadcaster(Config{}, obs.NewMetrics())
	sub, err := b.Subscribe(Filter{
		Kinds:       []schema.EventType{schema.EventTick},
		Instruments: []schema.InstrumentID{2},
	})
	require.NoError(t, err)

	b.Publish(tickEvent(1, 1))
	b.Publish(tickEvent(2, 2))
	b.Publish(riskEvent(1, 3))

	e, ok := sub.TryNext()
	require.True(t, ok)
	assert.Equal(t, schema.InstrumentID(2), e.Header.Instrument)
	_, ok = sub.TryNext()
	assert.False(t, ok)
}

func TestFilterByPortfolio(t *testing.T) {
	b := NewBroadcaster(Config{}, obs.NewMetrics())
	sub, err := b.Subscribe(Filter{Portfolios: []schema.PortfolioID{7}})
	require.NoError(t, err)

	b.Publish(riskEvent(7, 1))
	b.Publish(riskEvent(8, 2))
	// ticks carry no portfolio and pass
	b.Publish(tickEvent(1, 3))

	e, ok := sub.TryNext()
	require.True(t, ok)
	snap, ok := codec.DecodeRiskSnapshot(e.Payload)
	require.True(t, ok)
	assert.Equal(t, schema.PortfolioID(7), snap.Portfolio)

	e, ok = sub.TryNext()
	require.True(t, ok)
	assert.Equal(t, schema.EventTick, e.Header.Type)
	_, ok = sub.TryNext()
	assert.False(t, ok)
}

func TestSubscriberOrderingPreserved(t *testing.T) {
	b := NewBroadcaster(Config{QueueCapacity: 16}, obs.NewMetrics())
	sub, err := b.Subscribe(Filter{})
	require.NoError(t, err)

	for seq := uint64(1); seq <= 8; seq++ {
		b.Publish(tickEvent(1, seq))
	}
	for seq := uint64(1); seq <= 8; seq++ {
		e, ok := sub.TryNext()
		require.True(t, ok)
		assert.Equal(t, seq, e.Header.Seq)
	}
}

func TestUnsubscribeClosesNext(t *testing.T) {
	b := NewBroadcaster(Config{}, obs.NewMetrics())
	sub, err := b.Subscribe(Filter{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, ok := sub.Next()
		assert.False(t, ok)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Unsubscribe(sub)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock on unsubscribe")
	}

	// publishing after unsubscribe reaches no one
	b.Publish(tickEvent(1, 1))
	_, ok := sub.TryNext()
	assert.False(t, ok)
}

func TestSubscribeAfterClose(t *testing.T) {
	b := NewBroadcaster(Config{}, obs.NewMetrics())
	b.Close()
	_, err := b.Subscribe(Filter{})
	assert.ErrorIs(t, err, exception.ErrBroadcasterStopped)
}

func TestPublishWithoutMetrics(t *testing.T) {
	b := NewBroadcaster(Config{QueueCapacity: 2}, nil)
	sub, err := b.Subscribe(Filter{})
	require.NoError(t, err)

	// overflow the subscriber queue so the drop counters are exercised
	for seq := uint64(1); seq <= 6; seq++ {
		b.Publish(tickEvent(1, seq))
	}

	drained := 0
	for {
		if _, ok := sub.TryNext(); !ok {
			break
		}
		drained++
	}
	assert.Greater(t, drained, 0)
}
