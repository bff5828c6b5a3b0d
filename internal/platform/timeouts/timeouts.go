// Package timeouts defines shared timeout constants used across the game
// process so transport and storage boundaries agree on their budgets.
package timeouts

import "time"

// ReadHeader limits how long the gateway HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful shutdown.
const Shutdown = 5 * time.Second

// RenderStep caps a single board send to a channel.
const RenderStep = 3 * time.Second

// ExternalCall caps calls to storage, cache and broker collaborators.
const ExternalCall = 2 * time.Second
