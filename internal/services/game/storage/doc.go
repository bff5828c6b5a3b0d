// Package storage defines persistence contracts for the game service.
//
// It covers channel configuration, assets and their cooldowns, encounter
// records, and the population statistics the cooldown roll reads.
// Implementations live in subpackages: sqlite for durable state and
// rediscache for a read-through statistics cache.
//
// Common error types:
//   - ErrNotFound: requested record is missing
//   - ErrChannelConfigNotFound: a channel has no stored configuration
package storage
