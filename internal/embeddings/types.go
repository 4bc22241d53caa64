// Package embeddings is the Model collaborator (spec's embed_query /
// embed_items) backed by an HTTP model host, with an LRU plus optional
// Redis cache in front of it and chunking for item texts too long to embed
// in a single call.
package embeddings

import "time"

// Config controls how the Model collaborator talks to the model host.
type Config struct {
	// BaseURL points to the model host's /embeddings endpoint
	BaseURL string
	// DefaultModel names the embedding model serving embed_query/embed_items
	// (e.g. text-embedding-3-small)
	DefaultModel string
	// Timeout for outbound HTTP calls to the model host
	Timeout time.Duration
	// EnableRedis enables Redis-backed cache (optional)
	EnableRedis bool
	// RedisAddr in host:port form when EnableRedis is true
	RedisAddr string
	// CacheTTL sets TTL for embedding cache entries
	CacheTTL time.Duration
	// MaxLRU controls in-process LRU size
	MaxLRU int
	// Chunking controls how over-long item texts are split before
	// EmbedItems sends them to the model host; chunk embeddings are
	// mean-pooled back into one vector per item.
	Chunking ChunkingConfig
}
