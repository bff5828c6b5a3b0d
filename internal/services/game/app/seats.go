package app

import "sync"

// Seats records which channel each asset is seated in. Sessions of one
// process share it so an asset plays in at most one game at a time.
type Seats struct {
	mu      sync.Mutex
	byAsset map[string]string
}

// NewSeats returns an empty seat index.
func NewSeats() *Seats {
	return &Seats{byAsset: make(map[string]string)}
}

// ChannelOf returns the channel assetID is seated in.
func (s *Seats) ChannelOf(assetID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	channelID, ok := s.byAsset[assetID]
	return channelID, ok
}

// claim seats assetID in channelID. It fails when another channel holds it.
func (s *Seats) claim(assetID, channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.byAsset[assetID]; ok {
		return current == channelID
	}
	s.byAsset[assetID] = channelID
	return true
}

// release frees assetID when channelID holds it.
func (s *Seats) release(assetID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byAsset[assetID] == channelID {
		delete(s.byAsset, assetID)
	}
}
