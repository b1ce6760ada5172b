// Package storage is the SQLite persistence layer.
//
// It holds everything that must survive a restart:
//   - crons: recurring scheduled messages
//   - phrases: per-chat phrase pools for the random-phrase marker
//   - confronts: per-chat auto-reaction rules
//   - chat_settings: per-chat defaults (default thread)
package storage
