// Package archive implements the batch writer for confirmed messages.
//
// The writer is append-only: confirmations are inserted once and
// replays are discarded by the message_id conflict target.
package archive
