// Package gateway exposes game channels over WebSocket.
//
// Clients connect to /ws?channel=<id>&user=<id>, receive every message the
// game renders into that channel, and press buttons by sending interaction
// frames. Identity is taken from the query string, so the gateway belongs
// behind an authenticating proxy.
package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	apperrors "github.com/louisbranch/daruma/internal/platform/errors"
	"github.com/louisbranch/daruma/internal/platform/logging"
	"github.com/louisbranch/daruma/internal/services/game/render"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxFramePayloadBytes   = 4 * 1024
	maxFramesPerSecond     = 20
	maxDecodeErrorsPerConn = 3
	defaultWriteTimeout    = 5 * time.Second
)

// Frame types.
const (
	FrameJoined   = "game.joined"
	FrameMessage  = "game.message"
	FrameReply    = "game.reply"
	FrameError    = "game.error"
	FrameInteract = "game.interact"
)

// ErrChannelNotFound is returned for channels the gateway does not serve.
var ErrChannelNotFound = apperrors.New(apperrors.CodeChannelNotFound, "gateway channel not found")

// Frame is the envelope of every message in both directions.
type Frame struct {
	Type      string              `json:"type"`
	RequestID string              `json:"request_id,omitempty"`
	Payload   jsoniter.RawMessage `json:"payload"`
}

type joinedPayload struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

type interactPayload struct {
	CustomID string `json:"custom_id"`
}

type errorEnvelope struct {
	Error frameError `json:"error"`
}

type frameError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// DispatchFunc handles one interaction.
type DispatchFunc func(ctx context.Context, in *Interaction) error

// Hub tracks the served channels and their connected peers.
type Hub struct {
	logger *zap.Logger

	mu       sync.Mutex
	channels map[string]*room
}

// NewHub serves channelIDs.
func NewHub(channelIDs []string, logger *zap.Logger) *Hub {
	h := &Hub{
		logger:   logging.OrNop(logger).Named("gateway"),
		channels: make(map[string]*room),
	}
	for _, id := range channelIDs {
		h.AddChannel(id)
	}
	return h
}

// AddChannel starts serving channelID.
func (h *Hub) AddChannel(channelID string) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[channelID]; !ok {
		h.channels[channelID] = &room{id: channelID, peers: make(map[*peer]struct{})}
	}
}

// RemoveChannel stops serving channelID. Connected peers stay open but
// receive nothing further.
func (h *Hub) RemoveChannel(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, channelID)
}

// ChannelIDs returns the served channels, sorted.
func (h *Hub) ChannelIDs() []string {
	h.mu.Lock()
	ids := make([]string, 0, len(h.channels))
	for id := range h.channels {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func (h *Hub) room(channelID string) (*room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.channels[channelID]
	return r, ok
}

// Channel returns a handle that broadcasts to channelID's peers.
func (h *Hub) Channel(_ context.Context, channelID string) (*Channel, error) {
	r, ok := h.room(channelID)
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeChannelNotFound, "gateway channel not found",
			map[string]string{"ChannelID": channelID})
	}
	return &Channel{room: r, logger: h.logger}, nil
}

// Channel broadcasts rendered messages to every peer in a room.
type Channel struct {
	room   *room
	logger *zap.Logger
}

// ID returns the channel id.
func (c *Channel) ID() string {
	return c.room.id
}

// Send broadcasts msg. Peers that fail to receive it are dropped; the error
// is reported only when no peer received the message.
func (c *Channel) Send(ctx context.Context, msg render.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	frame := Frame{Type: FrameMessage, Payload: payload}
	peers := c.room.snapshot()
	var errs []error
	for _, p := range peers {
		if err := p.writeFrame(ctx, frame); err != nil {
			c.room.leave(p)
			c.logger.Debug("dropped peer", zap.String("channel_id", c.room.id), zap.String("user_id", p.userID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(peers) > 0 && len(errs) == len(peers) {
		return errors.Join(errs...)
	}
	return nil
}

type room struct {
	id    string
	mu    sync.Mutex
	peers map[*peer]struct{}
}

func (r *room) join(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p] = struct{}{}
}

func (r *room) leave(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, p)
}

func (r *room) snapshot() []*peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	return out
}

type peer struct {
	userID string
	mu     sync.Mutex
	conn   *websocket.Conn
}

func (p *peer) writeFrame(ctx context.Context, frame Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	_ = p.conn.SetWriteDeadline(deadline)
	return json.NewEncoder(p.conn).Encode(frame)
}

func (p *peer) writeError(requestID, code, message string) error {
	return p.writeFrame(context.Background(), Frame{
		Type:      FrameError,
		RequestID: requestID,
		Payload:   mustJSON(errorEnvelope{Error: frameError{Code: code, Message: message}}),
	})
}

// Interaction is one button press received from a peer.
type Interaction struct {
	channelID string
	userID    string
	customID  string
	requestID string
	peer      *peer
}

func (i *Interaction) ChannelID() string { return i.channelID }
func (i *Interaction) UserID() string    { return i.userID }
func (i *Interaction) CustomID() string  { return i.customID }

// Reply answers the interacting peer only.
func (i *Interaction) Reply(ctx context.Context, msg render.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return i.peer.writeFrame(ctx, Frame{Type: FrameReply, RequestID: i.requestID, Payload: payload})
}

// Handler returns the HTTP routes: /up for liveness and /ws for peers.
func (h *Hub) Handler(dispatch DispatchFunc) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		h.serveConn(conn, dispatch)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		channelID := strings.TrimSpace(r.URL.Query().Get("channel"))
		userID := strings.TrimSpace(r.URL.Query().Get("user"))
		if channelID == "" || userID == "" {
			http.Error(w, "channel and user are required", http.StatusBadRequest)
			return
		}
		if _, ok := h.room(channelID); !ok {
			http.Error(w, "channel not found", http.StatusNotFound)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
	return mux
}

func (h *Hub) serveConn(conn *websocket.Conn, dispatch DispatchFunc) {
	defer func() {
		_ = conn.Close()
	}()

	req := conn.Request()
	channelID := strings.TrimSpace(req.URL.Query().Get("channel"))
	userID := strings.TrimSpace(req.URL.Query().Get("user"))
	r, ok := h.room(channelID)
	if !ok {
		return
	}
	p := &peer{userID: userID, conn: conn}
	r.join(p)
	defer r.leave(p)
	logger := h.logger.With(zap.String("channel_id", channelID), zap.String("user_id", userID))
	logger.Debug("peer joined")

	_ = p.writeFrame(req.Context(), Frame{
		Type:    FrameJoined,
		Payload: mustJSON(joinedPayload{ChannelID: channelID, UserID: userID}),
	})

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0
	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("peer left")
				return
			}
			decodeErrors++
			_ = p.writeError("", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = p.writeError(frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = p.writeError(frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case FrameInteract:
			h.handleInteract(req.Context(), p, channelID, frame, dispatch, logger)
		default:
			_ = p.writeError(frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func (h *Hub) handleInteract(ctx context.Context, p *peer, channelID string, frame Frame, dispatch DispatchFunc, logger *zap.Logger) {
	var payload interactPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = p.writeError(frame.RequestID, "INVALID_ARGUMENT", "invalid interact payload")
		return
	}
	customID := strings.TrimSpace(payload.CustomID)
	if customID == "" {
		_ = p.writeError(frame.RequestID, "INVALID_ARGUMENT", "custom_id is required")
		return
	}
	if dispatch == nil {
		_ = p.writeError(frame.RequestID, "UNAVAILABLE", "game is not accepting interactions")
		return
	}
	in := &Interaction{
		channelID: channelID,
		userID:    p.userID,
		customID:  customID,
		requestID: frame.RequestID,
		peer:      p,
	}
	if err := dispatch(ctx, in); err != nil {
		logger.Warn("dispatch interaction", zap.String("custom_id", customID), zap.Error(err))
		_ = p.writeError(frame.RequestID, "INTERNAL", "interaction failed")
	}
}

func mustJSON(v any) jsoniter.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
