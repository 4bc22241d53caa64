package embeddings

import (
	"strings"

	"github.com/google/uuid"
)

// ChunkingConfig controls how long item texts are split before being sent
// through EmbedItems. embed_items (spec's Model collaborator) accepts one
// string per item; chunking lets the service honor that contract for items
// whose text would otherwise overflow the model host's context window.
type ChunkingConfig struct {
	Enabled       bool   `yaml:"Enabled"`
	MaxTokens     int    `yaml:"MaxTokens"`
	OverlapTokens int    `yaml:"OverlapTokens"`
	TokenizerMode string `yaml:"TokenizerMode"` // "simple" | "tiktoken"
}

// DefaultChunkingConfig returns sensible defaults
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Enabled:       true,
		MaxTokens:     1800,     // Safe for most embedding models
		OverlapTokens: 200,      // ~11% overlap
		TokenizerMode: "simple", // Start with simple word-based
	}
}

// ItemChunk is one slice of an over-long item's text, tagged with the item
// it came from so the caller can pool the chunk embeddings back into a
// single row of EmbedItems' output matrix.
type ItemChunk struct {
	ItemID     string // groups chunks that belong to the same item
	Text       string // the chunk text
	Index      int    // 0-based chunk position
	TotalCount int    // total number of chunks for this item
}

// Chunker splits an item's text into overlapping chunks when it would
// exceed the configured token budget.
type Chunker struct {
	maxTokens     int
	overlapTokens int
	tokenizerMode string
}

// NewChunker creates a new chunker with the given configuration
func NewChunker(config ChunkingConfig) *Chunker {
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1800
	}
	if config.OverlapTokens <= 0 {
		config.OverlapTokens = 200
	}
	if config.TokenizerMode == "" {
		config.TokenizerMode = "simple"
	}

	return &Chunker{
		maxTokens:     config.MaxTokens,
		overlapTokens: config.OverlapTokens,
		tokenizerMode: config.TokenizerMode,
	}
}

// ChunkItem splits an item's text into overlapping chunks if needed.
// Returns nil if the text fits within maxTokens (no chunking needed), in
// which case the caller should embed it as-is.
func (c *Chunker) ChunkItem(itemID, text string) []ItemChunk {
	tokens := c.tokenize(text)

	if len(tokens) <= c.maxTokens {
		return nil
	}

	chunks := []ItemChunk{}

	step := c.maxTokens - c.overlapTokens
	if step <= 0 {
		step = c.maxTokens / 2 // Fallback to 50% overlap
	}

	for i := 0; i < len(tokens); i += step {
		end := i + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}

		chunkTokens := tokens[i:end]
		chunks = append(chunks, ItemChunk{
			ItemID: itemID,
			Text:   c.detokenize(chunkTokens),
			Index:  len(chunks),
		})

		if end == len(tokens) {
			break
		}
	}

	for i := range chunks {
		chunks[i].TotalCount = len(chunks)
	}

	return chunks
}

// CountTokens estimates the token count for a given text
func (c *Chunker) CountTokens(text string) int {
	return len(c.tokenize(text))
}

func (c *Chunker) tokenize(text string) []string {
	switch c.tokenizerMode {
	case "tiktoken":
		// TODO: wire a real tiktoken-go tokenizer; simple word count is
		// close enough for the token budgets the model host enforces.
		return c.simpleTokenize(text)
	default:
		return c.simpleTokenize(text)
	}
}

func (c *Chunker) detokenize(tokens []string) string {
	return strings.Join(tokens, " ")
}

// simpleTokenize provides word-based tokenization; one word ~= one token.
func (c *Chunker) simpleTokenize(text string) []string {
	return strings.Fields(text)
}

// newItemUUID generates the grouping id used when the caller doesn't supply
// one of its own (e.g. items keyed only by position in a batch).
func newItemUUID() string {
	return uuid.New().String()
}

// EstimateTokensForModel estimates tokens based on the model
func EstimateTokensForModel(text string, model string) int {
	switch {
	case strings.Contains(model, "gpt-4"):
		return len(strings.Fields(text)) * 13 / 10
	case strings.Contains(model, "embedding"):
		return len(strings.Fields(text)) * 13 / 10
	default:
		return len(strings.Fields(text)) * 13 / 10
	}
}
