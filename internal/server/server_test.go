package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarsync/internal/audio"
	"github.com/normanking/avatarsync/internal/config"
	"github.com/normanking/avatarsync/internal/engine"
	"github.com/normanking/avatarsync/internal/shapegen"
)

type stubGenerator struct {
	resp *shapegen.GenerateResponse
}

func (g *stubGenerator) Generate(ctx context.Context, pcm []byte, sampleRate int) (*shapegen.GenerateResponse, error) {
	if g.resp != nil {
		return g.resp, nil
	}
	return &shapegen.GenerateResponse{}, nil
}

func newTestServer(t *testing.T, gen engine.Generator) (*websocket.Conn, *engine.Engine) {
	t.Helper()

	cfg := config.DefaultConfig()
	eng := engine.New(cfg.Engine, gen, zerolog.Nop(), nil, nil)
	t.Cleanup(eng.Close)

	srv := NewServer(cfg.Server, eng, zerolog.Nop())
	ts := httptest.NewServer(http.HandlerFunc(srv.ServeWS))
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, eng
}

// readUntil reads messages until one of the given type arrives or the
// deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed waiting for %q: %v", msgType, err)
		}
		if msg["type"] == msgType {
			return msg
		}
	}
	t.Fatalf("no %q message within %v", msgType, timeout)
	return nil
}

func sendJSON(t *testing.T, conn *websocket.Conn, v map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestServeWS_AudioToWeights(t *testing.T) {
	tcv := 0.0
	gen := &stubGenerator{resp: &shapegen.GenerateResponse{
		Frames: []shapegen.RawFrame{
			{TimeCode: &tcv, BlendShapes: map[string]float64{"jawOpen": 0.7}},
		},
	}}
	conn, _ := newTestServer(t, gen)

	pcm := base64.StdEncoding.EncodeToString(make([]byte, int(0.3*audio.BytesPerSecond)))

	sendJSON(t, conn, map[string]any{"type": "audio_start", "session": "resp-1"})
	// Anchor the frame timeline one second into the clock's future so the
	// frame cannot age past the late window before the first push.
	sendJSON(t, conn, map[string]any{"type": "anchor", "session": "resp-1", "audio_clock": 0.0, "frame_origin": -1.0})
	sendJSON(t, conn, map[string]any{
		"type": "audio_delta", "session": "resp-1",
		"audio": pcm, "encoding": "pcm16", "sample_rate": audio.TargetSampleRate,
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no weight update carrying jawOpen")
		msg := readUntil(t, conn, "weights", 2*time.Second)
		assert.Equal(t, "resp-1", msg["session"])
		weights, _ := msg["weights"].(map[string]any)
		if v, ok := weights["jawOpen"]; ok {
			assert.InDelta(t, 0.7, v.(float64), 1e-9)
			break
		}
	}
}

func TestServeWS_SessionClosedAfterPlayback(t *testing.T) {
	tcv := 0.0
	gen := &stubGenerator{resp: &shapegen.GenerateResponse{
		Frames: []shapegen.RawFrame{
			{TimeCode: &tcv, BlendShapes: map[string]float64{"jawOpen": 0.7}},
		},
	}}
	conn, _ := newTestServer(t, gen)

	pcm := base64.StdEncoding.EncodeToString(make([]byte, int(0.3*audio.BytesPerSecond)))
	sendJSON(t, conn, map[string]any{"type": "audio_start", "session": "resp-2"})
	sendJSON(t, conn, map[string]any{"type": "anchor", "session": "resp-2", "audio_clock": 0.0, "frame_origin": -1.0})
	sendJSON(t, conn, map[string]any{
		"type": "audio_delta", "session": "resp-2",
		"audio": pcm, "encoding": "pcm16", "sample_rate": audio.TargetSampleRate,
	})
	sendJSON(t, conn, map[string]any{"type": "audio_stop", "session": "resp-2"})

	// Playback tail: weights decay to neutral, then the idle grace elapses
	// and the server reports closure.
	msg := readUntil(t, conn, "session_closed", 10*time.Second)
	assert.Equal(t, "resp-2", msg["session"])
}

func TestServeWS_RejectsBadMessages(t *testing.T) {
	conn, _ := newTestServer(t, &stubGenerator{})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readUntil(t, conn, "error", 2*time.Second)
	assert.Contains(t, msg["message"], "malformed")

	sendJSON(t, conn, map[string]any{"type": "audio_start"})
	msg = readUntil(t, conn, "error", 2*time.Second)
	assert.Contains(t, msg["message"], "missing session")

	sendJSON(t, conn, map[string]any{"type": "warp", "session": "s"})
	msg = readUntil(t, conn, "error", 2*time.Second)
	assert.Contains(t, msg["message"], "unknown message type")

	sendJSON(t, conn, map[string]any{"type": "anchor", "session": "s"})
	msg = readUntil(t, conn, "error", 2*time.Second)
	assert.Contains(t, msg["message"], "audio_clock")
}

func TestServeWS_EventsReachEngine(t *testing.T) {
	conn, eng := newTestServer(t, &stubGenerator{})

	sendJSON(t, conn, map[string]any{"type": "audio_start", "session": "resp-3"})

	require.Eventually(t, func() bool {
		for _, id := range eng.SessionIDs() {
			if id == "resp-3" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
