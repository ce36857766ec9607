// Package server exposes the synchronization engine over a WebSocket. The
// producer streams audio events in; the renderer receives weight updates out.
package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarsync/internal/audio"
	"github.com/normanking/avatarsync/internal/blendshape"
	"github.com/normanking/avatarsync/internal/config"
	"github.com/normanking/avatarsync/internal/engine"
)

// SyncEngine is the engine surface the transport needs.
type SyncEngine interface {
	HandleEvent(ev engine.AssistantEvent)
	SetAnchor(id string, audioClockSec, frameLocalSec float64)
	Tick(id string, clockSec float64)
	CurrentWeights(id string) blendshape.WeightMap
	LateDrops(id string) int64
}

// inboundMessage is the wire shape for every client-to-server message. The
// fields used depend on Type; unknown types are rejected at the boundary.
type inboundMessage struct {
	Type    string `json:"type"`
	Session string `json:"session"`

	// audio_delta
	Audio      string `json:"audio,omitempty"`       // base64 PCM
	Encoding   string `json:"encoding,omitempty"`    // "pcm16" or "float32"
	SampleRate int    `json:"sample_rate,omitempty"` // source rate in Hz

	// anchor / clock
	AudioClock  *float64 `json:"audio_clock,omitempty"` // playback clock seconds
	FrameOrigin float64  `json:"frame_origin,omitempty"`
}

// weightsMessage pushes the current pose for one session.
type weightsMessage struct {
	Type      string             `json:"type"`
	Session   string             `json:"session"`
	Weights   map[string]float64 `json:"weights"`
	LateDrops int64              `json:"late_drops"`
}

type closedMessage struct {
	Type    string `json:"type"`
	Session string `json:"session"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Server accepts WebSocket connections and bridges them to the engine.
type Server struct {
	cfg      config.ServerConfig
	engine   SyncEngine
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a Server around eng.
func NewServer(cfg config.ServerConfig, eng SyncEngine, logger zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		engine: eng,
		logger: logger.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// clockRef is the client's last reported playback clock position, used to
// extrapolate the clock between reports.
type clockRef struct {
	clockSec   float64
	reportedAt time.Time
}

// connection is one client. The writer goroutine owns outbound traffic; the
// read loop feeds the engine and updates clock tracking.
type connection struct {
	id     string
	ws     *websocket.Conn
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]clockRef
	done     chan struct{}
}

// ServeWS upgrades the request and runs the connection until the client
// disconnects.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	id := uuid.NewString()
	c := &connection{
		id:       id,
		ws:       ws,
		logger:   s.logger.With().Str("conn", id[:8]).Logger(),
		sessions: make(map[string]clockRef),
		done:     make(chan struct{}),
	}
	c.logger.Info().Str("remote", r.RemoteAddr).Msg("Client connected")

	go s.writeLoop(c)
	s.readLoop(c)

	close(c.done)
	ws.Close()
	c.logger.Info().Msg("Client disconnected")
}

func (s *Server) readLoop(c *connection) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(errorMessage{Type: "error", Message: "malformed message"})
			continue
		}
		if msg.Session == "" {
			c.send(errorMessage{Type: "error", Message: "missing session"})
			continue
		}

		s.dispatch(c, &msg)
	}
}

// dispatch resolves one wire message into an engine call. Raw payload shapes
// do not travel past this point.
func (s *Server) dispatch(c *connection, msg *inboundMessage) {
	switch msg.Type {
	case "audio_start":
		s.engine.HandleEvent(engine.AudioStarted{ID: msg.Session})
		c.track(msg.Session)

	case "audio_delta":
		pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			c.send(errorMessage{Type: "error", Message: "bad audio encoding"})
			return
		}
		enc := audio.EncodingPCM16
		if msg.Encoding == "float32" {
			enc = audio.EncodingFloat32
		}
		s.engine.HandleEvent(engine.AudioDelta{ID: msg.Session, Chunk: &audio.Chunk{
			Data:       pcm,
			Encoding:   enc,
			SampleRate: msg.SampleRate,
			ReceivedAt: time.Now(),
		}})
		c.track(msg.Session)

	case "audio_stop":
		s.engine.HandleEvent(engine.AudioStopped{ID: msg.Session})

	case "anchor":
		if msg.AudioClock == nil {
			c.send(errorMessage{Type: "error", Message: "anchor requires audio_clock"})
			return
		}
		s.engine.SetAnchor(msg.Session, *msg.AudioClock, msg.FrameOrigin)
		c.report(msg.Session, *msg.AudioClock)

	case "clock":
		if msg.AudioClock == nil {
			c.send(errorMessage{Type: "error", Message: "clock requires audio_clock"})
			return
		}
		c.report(msg.Session, *msg.AudioClock)

	default:
		c.send(errorMessage{Type: "error", Message: "unknown message type: " + msg.Type})
	}
}

// writeLoop drives ticks and pushes weight updates at the configured cadence.
// Sessions without a clock report yet are tracked but not ticked.
func (s *Server) writeLoop(c *connection) {
	ticker := time.NewTicker(s.cfg.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		for id, ref := range c.snapshot() {
			if ref.reportedAt.IsZero() {
				continue
			}
			clock := ref.clockSec + time.Since(ref.reportedAt).Seconds()
			s.engine.Tick(id, clock)

			w := s.engine.CurrentWeights(id)
			if w == nil {
				c.untrack(id)
				c.send(closedMessage{Type: "session_closed", Session: id})
				continue
			}
			c.send(weightsMessage{
				Type:      "weights",
				Session:   id,
				Weights:   w,
				LateDrops: s.engine.LateDrops(id),
			})
		}
	}
}

func (c *connection) track(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[id]; !ok {
		c.sessions[id] = clockRef{}
	}
}

func (c *connection) report(id string, clockSec float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[id] = clockRef{clockSec: clockSec, reportedAt: time.Now()}
}

func (c *connection) untrack(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

func (c *connection) snapshot() map[string]clockRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]clockRef, len(c.sessions))
	for id, ref := range c.sessions {
		out[id] = ref
	}
	return out
}

// send serializes one outbound message. Both the read loop and the writer
// goroutine call this, so writes are serialized here.
func (c *connection) send(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(v); err != nil {
		c.logger.Debug().Err(err).Msg("Write failed")
	}
}
