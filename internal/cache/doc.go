// Package cache defines the content-addressed disk store that keeps converted
// uploads under StoragePath/<sha256>/. Each entry directory holds exactly three
// members: the original payload, the converted MP3 and metadata.json, the
// latter written last so its presence marks the entry as complete. The
// Repository layer adds TTL semantics on top (lazy expiry on read, live
// listing), while the reaper and listing packages consume Scan results to
// sweep and publish entries without touching request handlers.
package cache
