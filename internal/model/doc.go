// Package model defines shared data types used across the chatlink client.
//
// Conventions:
//   - Timestamps: int64 milliseconds since Unix epoch
//   - IDs: server message IDs are opaque strings; client-local IDs are UUIDs
package model
