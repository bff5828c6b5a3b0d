// Package app runs Daruma Training games across chat channels.
//
// A Session owns one channel's game and drives its render loop. The
// Orchestrator owns every Session, starts them from stored channel
// configuration, and routes registration interactions to them. Run wires the
// stores, caches, publishers, and servers into a runnable process.
package app
