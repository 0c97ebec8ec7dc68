package predict

import (
	"bufio"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/pkg/uds"
)

func startSidecar(t *testing.T, score float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scorer.sock")
	server, err := uds.NewServer(path)
	require.NoError(t, err)
	require.NoError(t, server.Listen())
	t.Cleanup(func() { _ = server.Close() })

	go func() {
		for {
			conn, err := server.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					var req ScoreRequest
					if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
						return
					}
					resp, _ := json.Marshal(ScoreResponse{ID: req.ID, Score: score})
					resp = append(resp, '\n')
					if _, err := conn.Write(resp); err != nil {
						return
					}
				}
			}()
		}
	}()
	return path
}

func TestSidecarClientRoundTrip(t *testing.T) {
	path := startSidecar(t, 0.42)

	client, err := NewSidecarClient(path)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := client.Score(ctx, ScoreRequest{ID: "abc", Instrument: 1})
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.ID)
	assert.InDelta(t, 0.42, resp.Score, 1e-9)

	// the connection is reused
	resp, err = client.Score(ctx, ScoreRequest{ID: "def", Instrument: 2})
	require.NoError(t, err)
	assert.Equal(t, "def", resp.ID)
}

func TestSidecarClientDialFailure(t *testing.T) {
	client, err := NewSidecarClient(filepath.Join(t.TempDir(), "missing.sock"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = client.Score(ctx, ScoreRequest{ID: "x"})
	assert.Error(t, err)
}
