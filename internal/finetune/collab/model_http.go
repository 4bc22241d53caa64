package collab

import (
	"context"
	"fmt"
	"math"

	"github.com/rivermuse/finetune-engine/internal/embeddings"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// EmbeddingModel adapts internal/embeddings.Service (an HTTP+cache client
// talking to the inference host named in spec §6) to the Model
// collaborator interface. The embeddings service itself already exposes
// EmbedQuery/EmbedItems/Fix*Model/SameQueryAndItems (spec §4.7's layer
// freezing, spec §6's embed_query/embed_items) against float32 vectors;
// this adapter only widens those to the float64 shape the feature
// extractor and loss use, and resolves a QueryItem/payload map
// down to the text the embeddings service actually embeds.
type EmbeddingModel struct {
	svc *embeddings.Service
}

func NewEmbeddingModel(svc *embeddings.Service) *EmbeddingModel {
	return &EmbeddingModel{svc: svc}
}

func (m *EmbeddingModel) EmbedQuery(ctx context.Context, query interface{}) ([]float64, error) {
	text, err := queryText(query)
	if err != nil {
		return nil, err
	}
	v, err := m.svc.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return widen(v), nil
}

func (m *EmbeddingModel) EmbedItems(ctx context.Context, items []map[string]interface{}) ([][]float64, error) {
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = payloadText(it)
	}
	vs, err := m.svc.EmbedItems(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(vs))
	for i, v := range vs {
		out[i] = widen(v)
	}
	return out, nil
}

func (m *EmbeddingModel) FixQueryModel(n int) { m.svc.FixQueryModel(n) }
func (m *EmbeddingModel) FixItemsModel(n int) { m.svc.FixItemsModel(n) }
func (m *EmbeddingModel) UnfixQueryModel()    { m.svc.UnfixQueryModel() }
func (m *EmbeddingModel) UnfixItemsModel()    { m.svc.UnfixItemsModel() }

func (m *EmbeddingModel) SameQueryAndItems() bool { return m.svc.SameQueryAndItems() }

func queryText(query interface{}) (string, error) {
	switch q := query.(type) {
	case types.QueryItem:
		if q.Kind == types.QueryKindDict {
			if t, ok := q.Fields["text"].(string); ok {
				return t, nil
			}
		}
		return q.String(), nil
	case string:
		return q, nil
	default:
		return "", fmt.Errorf("collab: unsupported query type %T", query)
	}
}

func payloadText(payload map[string]interface{}) string {
	if t, ok := payload["text"].(string); ok {
		return t
	}
	return fmt.Sprintf("%v", payload)
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// CosineRanker scores a query vector against item vectors by cosine
// similarity, the typical Ranker instance named in the glossary.
type CosineRanker struct{}

func (CosineRanker) IsSimilarity() bool { return true }

func (CosineRanker) Rank(query []float64, items [][]float64) []float64 {
	out := make([]float64, len(items))
	for i, v := range items {
		out[i] = cosine(query, v)
	}
	return out
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
