package app

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/louisbranch/daruma/internal/services/game/domain/settings"
	"github.com/louisbranch/daruma/internal/services/game/storage"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AdminTokenHeader carries the operator token on admin requests.
const AdminTokenHeader = "X-Admin-Token"

// ChannelHost starts and stops serving channels on the messaging adapter.
type ChannelHost interface {
	AddChannel(channelID string)
	RemoveChannel(channelID string)
}

type adminServer struct {
	orch   *Orchestrator
	host   ChannelHost
	token  string
	logger *zap.Logger
}

type channelView struct {
	ChannelID string `json:"channel_id"`
	Variant   string `json:"variant"`
	Status    string `json:"status"`
	Players   int    `json:"players"`
}

// NewAdminHandler serves operator actions under /admin/. Every request must
// send token in AdminTokenHeader; an empty token rejects all requests.
func NewAdminHandler(orch *Orchestrator, host ChannelHost, token string) http.Handler {
	a := &adminServer{orch: orch, host: host, token: token, logger: orch.logger.Named("admin")}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/channels", a.handleListChannels)
	mux.HandleFunc("PUT /admin/channels/{id}", a.handlePutChannel)
	mux.HandleFunc("DELETE /admin/channels/{id}", a.handleDeleteChannel)
	mux.HandleFunc("POST /admin/maintenance", a.handleStartMaintenance)
	mux.HandleFunc("DELETE /admin/maintenance", a.handleEndMaintenance)
	return a.authorize(mux)
}

func (a *adminServer) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(AdminTokenHeader)
		if a.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *adminServer) handleListChannels(w http.ResponseWriter, r *http.Request) {
	ids := a.orch.ChannelIDs()
	views := make([]channelView, 0, len(ids))
	for _, id := range ids {
		session, ok := a.orch.Session(id)
		if !ok {
			continue
		}
		st := session.State()
		views = append(views, channelView{
			ChannelID: id,
			Variant:   string(session.Settings().Variant),
			Status:    st.Status.String(),
			Players:   len(st.Players),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"maintenance": a.orch.InMaintenance(),
		"channels":    views,
	})
}

// handlePutChannel stores the channel's config and opens its waiting room.
func (a *adminServer) handlePutChannel(w http.ResponseWriter, r *http.Request) {
	channelID := strings.TrimSpace(r.PathValue("id"))
	variant, err := settings.ParseVariant(strings.TrimSpace(r.URL.Query().Get("variant")))
	if channelID == "" || err != nil {
		http.Error(w, "channel id and a valid variant are required", http.StatusBadRequest)
		return
	}
	if _, running := a.orch.Session(channelID); running {
		http.Error(w, "channel already has a session", http.StatusConflict)
		return
	}

	ctx := r.Context()
	now := a.orch.deps.Session.Now()
	cfg, err := a.orch.deps.Configs.GetChannelConfig(ctx, channelID)
	switch {
	case errors.Is(err, storage.ErrChannelConfigNotFound):
		cfg = settings.ChannelConfig{ChannelID: channelID, CreatedAt: now}
	case err != nil:
		a.logger.Error("get channel config", zap.String("channel_id", channelID), zap.Error(err))
		http.Error(w, "channel config unavailable", http.StatusInternalServerError)
		return
	}
	cfg.Variant = variant
	cfg.UpdatedAt = now
	if err := a.orch.deps.Configs.PutChannelConfig(ctx, cfg); err != nil {
		a.logger.Error("put channel config", zap.String("channel_id", channelID), zap.Error(err))
		http.Error(w, "channel config not stored", http.StatusInternalServerError)
		return
	}

	a.host.AddChannel(channelID)
	if !a.orch.StartWaitingRoomForChannel(ctx, channelID) {
		a.host.RemoveChannel(channelID)
		http.Error(w, "waiting room not started", http.StatusServiceUnavailable)
		return
	}
	a.logger.Info("channel added", zap.String("channel_id", channelID), zap.String("variant", string(variant)))
	writeJSON(w, http.StatusCreated, channelView{
		ChannelID: channelID,
		Variant:   string(variant),
		Status:    a.status(channelID),
	})
}

func (a *adminServer) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	channelID := strings.TrimSpace(r.PathValue("id"))
	if err := a.orch.RemoveChannel(r.Context(), channelID); err != nil {
		a.logger.Error("remove channel", zap.String("channel_id", channelID), zap.Error(err))
		http.Error(w, "channel not removed", http.StatusInternalServerError)
		return
	}
	a.host.RemoveChannel(channelID)
	w.WriteHeader(http.StatusNoContent)
}

// handleStartMaintenance returns once every running game has ended.
func (a *adminServer) handleStartMaintenance(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	a.orch.StopWaitingRoomsOnceGamesEnd(r.Context())
	a.logger.Info("maintenance started", zap.Duration("waited", time.Since(started)))
	w.WriteHeader(http.StatusNoContent)
}

func (a *adminServer) handleEndMaintenance(w http.ResponseWriter, r *http.Request) {
	a.orch.ResumeWaitingRooms(r.Context())
	a.logger.Info("maintenance ended")
	w.WriteHeader(http.StatusNoContent)
}

func (a *adminServer) status(channelID string) string {
	session, ok := a.orch.Session(channelID)
	if !ok {
		return ""
	}
	return session.State().Status.String()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
