package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dialtone-ai/sentra/internal/audio"
	"github.com/dialtone-ai/sentra/internal/model"
	"github.com/dialtone-ai/sentra/internal/session"
)

// maxFrameBytes bounds a single websocket message. Media frames carry
// 20ms of base64 mu-law (~220 bytes of payload); this leaves generous
// headroom for envelope fields.
const maxFrameBytes = 64 * 1024

// defaultIdleTimeout bounds the gap between websocket messages. Live
// streams deliver a frame every 20ms, so a connection silent this long
// is dead and its read loop must not be pinned forever.
const defaultIdleTimeout = 90 * time.Second

// envelope is the provider's media-stream websocket message. Every
// frame is a JSON text message with an event discriminator.
type envelope struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber"`
	StreamSID      string        `json:"streamSid"`
	Start          *startPayload `json:"start,omitempty"`
	Media          *mediaPayload `json:"media,omitempty"`
	Stop           *stopPayload  `json:"stop,omitempty"`
}

type startPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type stopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// CallRegistrar creates call records on first contact.
type CallRegistrar interface {
	EnsureCall(ctx context.Context, callSID string) error
}

// Handler serves the media-stream websocket endpoint. One connection
// carries one call's inbound audio from stream start to stream stop.
type Handler struct {
	Registry        *session.Registry
	Analyzer        *Analyzer
	Calls           CallRegistrar
	Logger          *slog.Logger
	DefaultStrategy model.Strategy
	MinAudioFor     func(model.Strategy) time.Duration

	// IdleTimeout overrides defaultIdleTimeout, mainly for tests.
	IdleTimeout time.Duration
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	// Strategy may be pinned per connection via query parameter; the
	// start frame's custom parameters take precedence.
	strategy := h.DefaultStrategy
	if tag := r.URL.Query().Get("strategy"); tag != "" {
		strategy = model.ParseStrategy(tag)
	}

	idle := h.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}

	var (
		sess    *session.Session
		lastSeq int64
	)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Logger.Warn("media stream closed unexpectedly", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg envelope
		if err := json.Unmarshal(frame, &msg); err != nil {
			h.Logger.Warn("malformed media frame", "error", err)
			continue
		}

		switch msg.Event {
		case "connected":
			h.Logger.Debug("media stream connected")

		case "start":
			if msg.Start == nil {
				h.Logger.Warn("start frame missing payload")
				continue
			}
			sess = h.startSession(*msg.Start, strategy)
			lastSeq = parseSeq(msg.SequenceNumber)

		case "media":
			if msg.Media == nil {
				continue
			}
			if sess == nil {
				h.Logger.Warn("dropping media frame before stream start", "seq", msg.SequenceNumber)
				continue
			}
			if msg.Media.Track != "" && msg.Media.Track != "inbound" {
				continue
			}
			seq := parseSeq(msg.SequenceNumber)
			if seq > 0 && seq <= lastSeq {
				h.Logger.Warn("dropping out-of-order media frame",
					"stream_sid", sess.StreamSID, "seq", seq, "last_seq", lastSeq)
				continue
			}
			if seq > 0 {
				lastSeq = seq
			}
			chunk, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				h.Logger.Warn("dropping undecodable media payload",
					"stream_sid", sess.StreamSID, "error", err)
				continue
			}
			if sess.IngestMedia(chunk) {
				go h.Analyzer.Run(context.Background(), sess)
			}

		case "stop":
			if sess == nil {
				return
			}
			h.Logger.Info("media stream stopped",
				"stream_sid", sess.StreamSID,
				"call_sid", sess.CallSID,
				"audio_bytes", sess.Audio.Size())
			// Flush whatever is buffered when no verdict exists yet, so
			// short calls still get a detection pass before teardown.
			if sess.BeginFlush() {
				s := sess
				go func() {
					h.Analyzer.Run(context.Background(), s)
					h.Registry.Remove(s.StreamSID)
				}()
			} else {
				h.Registry.Remove(sess.StreamSID)
			}
			return

		default:
			h.Logger.Debug("ignoring media event", "event", msg.Event)
		}
	}
}

func (h *Handler) startSession(start startPayload, strategy model.Strategy) *session.Session {
	if tag, ok := start.CustomParameters["strategy"]; ok && tag != "" {
		strategy = model.ParseStrategy(tag)
	}
	sampleRate := start.MediaFormat.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	minAudio := 2 * time.Second
	if h.MinAudioFor != nil {
		minAudio = h.MinAudioFor(strategy)
	}

	if h.Calls != nil && start.CallSID != "" {
		if err := h.Calls.EnsureCall(context.Background(), start.CallSID); err != nil {
			h.Logger.Warn("ensure call record", "call_sid", start.CallSID, "error", err)
		}
	}

	sess := session.New(start.StreamSID, start.CallSID, strategy, sampleRate, minAudio, time.Now())
	h.Registry.Put(sess)
	h.Logger.Info("media stream started",
		"stream_sid", start.StreamSID,
		"call_sid", start.CallSID,
		"strategy", strategy,
		"sample_rate", sampleRate)
	return sess
}

func parseSeq(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
