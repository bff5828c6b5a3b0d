package app

import (
	"context"
	"strings"

	"github.com/louisbranch/daruma/internal/services/game/render"
	"go.uber.org/zap"
)

// InteractionHandler handles one routed button press.
type InteractionHandler func(ctx context.Context, in Interaction) error

// Router dispatches interactions by custom id.
type Router struct {
	exact    map[string]InteractionHandler
	prefixes []prefixRoute
	logger   *zap.Logger
}

type prefixRoute struct {
	prefix  string
	handler func(ctx context.Context, in Interaction, suffix string) error
}

// NewRouter returns a Router wired to the orchestrator's registration flows.
func NewRouter(o *Orchestrator) *Router {
	return &Router{
		exact: map[string]InteractionHandler{
			render.ButtonRegisterPlayer: o.RegisterPlayer,
			render.ButtonQuickJoin:      o.QuickJoin,
			render.ButtonWithdrawPlayer: o.WithdrawPlayer,
		},
		prefixes: []prefixRoute{
			{prefix: render.ButtonSelectAssetPrefix, handler: o.SelectAsset},
		},
		logger: o.logger.Named("router"),
	}
}

// Handles reports whether customID routes to a handler.
func (r *Router) Handles(customID string) bool {
	if _, ok := r.exact[customID]; ok {
		return true
	}
	for _, route := range r.prefixes {
		if suffix, ok := strings.CutPrefix(customID, route.prefix); ok && suffix != "" {
			return true
		}
	}
	return false
}

// Dispatch routes in to its handler. Unknown ids are ignored.
func (r *Router) Dispatch(ctx context.Context, in Interaction) error {
	id := in.CustomID()
	if h, ok := r.exact[id]; ok {
		return h(ctx, in)
	}
	for _, route := range r.prefixes {
		if suffix, ok := strings.CutPrefix(id, route.prefix); ok && suffix != "" {
			return route.handler(ctx, in, suffix)
		}
	}
	r.logger.Debug("ignored interaction", zap.String("custom_id", id))
	return nil
}
