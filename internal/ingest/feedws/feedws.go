package feedws

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/ingest"
)

// Pub consumes a trade feed over websocket and hands raw ticks to the
// ingestor. The upstream speaks a JSON protocol: a subscribe request is
// acknowledged by id, then trades stream as tagged envelopes.
type Pub struct {
	wss *ws.WebSocket
}

func NewPub(ctx context.Context, url string) *Pub {
	return &Pub{
		wss: ws.New(ctx, url),
	}
}

func (repo *Pub) Len() int {
	return repo.wss.Len()
}

func (repo *Pub) Close() {
	repo.wss.Close()
}

func (repo *Pub) StartWebsocket(ctx context.Context) error {
	if err := repo.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}

	return nil
}

type SubscribeRequest struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	ID      int64    `json:"id"`
}

type SubscribeResponse struct {
	Type   string `json:"type"`
	ID     int64  `json:"id"`
	Result any    `json:"result"`
}

// SubscribeTrades subscribes the trade stream for the given symbols and
// waits for the upstream acknowledgement.
func (repo *Pub) SubscribeTrades(ctx context.Context, symbols []string) error {
	appendIntoRegister := true
	if err := repo.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := SubscribeRequest{
				Type:    "subscribe",
				Symbols: symbols,
				ID:      1,
			}

			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp SubscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != 1 {
				return false, nil
			}

			if resp.Result != nil {
				return false, errors.Errorf("subscribe trades, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

// TradeMessage is the streaming trade envelope.
type TradeMessage struct {
	Type string `json:"type"`
	ingest.RawTick
}

// ObserveTrades feeds every streamed trade through the ingestor until the
// context ends or the connection closes. Rejected ticks are logged and
// skipped.
func (repo *Pub) ObserveTrades(ctx context.Context, ing *ingest.Ingestor) (unsubscribe func()) {
	ch, cancel := repo.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				trade, ok := ws.ReadMessage[TradeMessage](m)
				if !ok || trade.Type != "trade" {
					continue
				}

				if _, err := ing.Submit(trade.RawTick); err != nil {
					logs.Warnf("tick rejected symbol=%s: %+v", trade.Symbol, err)
				}
			}
		}
	}()

	return cancel
}
