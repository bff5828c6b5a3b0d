package app

import (
	"context"

	apperrors "github.com/louisbranch/daruma/internal/platform/errors"
	"github.com/louisbranch/daruma/internal/services/game/render"
)

// ErrChannelNotFound marks a channel that no longer exists on the platform.
var ErrChannelNotFound = apperrors.New(apperrors.CodeChannelNotFound, "channel not found")

// Channel is a live handle to a platform channel.
type Channel interface {
	ID() string
	Send(ctx context.Context, msg render.Message) error
}

// ChannelResolver looks up live channel handles.
type ChannelResolver interface {
	// Channel returns ErrChannelNotFound when the channel is gone.
	Channel(ctx context.Context, channelID string) (Channel, error)
}

// AssetRegistry reports whether shared game assets are loaded.
type AssetRegistry interface {
	Ready() bool
}

// Interaction is one button press routed into the game.
type Interaction interface {
	ChannelID() string
	UserID() string
	CustomID() string
	Reply(ctx context.Context, msg render.Message) error
}

// Source is the randomness a session draws dice and delays from.
type Source interface {
	Intn(n int) int
	Int63n(n int64) int64
}
