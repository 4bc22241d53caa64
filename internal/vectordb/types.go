package vectordb

import "time"

// Config controls Qdrant client behavior
type Config struct {
	Enabled bool
	Host    string
	Port    int
	// Items collection holds one point per (part) object vector, keyed by
	// item id, so the feature extractor can fetch "used" item payloads and
	// their current vectors in one round trip.
	Items string
	// Search params
	TopK      int
	Threshold float64
	Timeout   time.Duration
	// Validation
	ExpectedEmbeddingDim int // Expected embedding dimension of the active model
	// MMR (diversity) re-ranking of candidate result sets
	MMREnabled        bool
	MMRLambda         float64
	MMRPoolMultiplier int
}

// ItemVector pairs an item id with its stored vector and payload, as
// returned by a point-id lookup or a similarity search against the items
// collection.
type ItemVector struct {
	ItemID  string                 `json:"item_id"`
	Vector  []float32              `json:"-"`
	Payload map[string]interface{} `json:"payload"`
	Score   float64                `json:"score"`
}

// UpsertItem represents a single point to insert into Qdrant
type UpsertItem struct {
	ID      interface{}            `json:"id,omitempty"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// UpsertResponse captures basic Qdrant upsert response
type UpsertResponse struct {
	Status string  `json:"status"`
	Time   float64 `json:"time"`
}
