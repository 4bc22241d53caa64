package clickstream

import (
	"encoding/json"

	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// wireQuery/wireResult are the JSONB-friendly shapes for QueryItem and
// SearchResultItem; types.QueryItem and types.SearchResultItem carry a
// discriminated Kind/raw []byte that encoding/json can't round-trip
// directly.

type wireQuery struct {
	Kind   string                 `json:"kind"`
	Text   string                 `json:"text,omitempty"`
	Image  []byte                 `json:"image,omitempty"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

func encodeQuery(q types.QueryItem) ([]byte, error) {
	w := wireQuery{Kind: q.Kind.String(), Text: q.Text, Image: q.Image, Fields: q.Fields}
	return json.Marshal(w)
}

func decodeQuery(raw []byte) (types.QueryItem, error) {
	if len(raw) == 0 {
		return types.QueryItem{}, nil
	}
	var w wireQuery
	if err := json.Unmarshal(raw, &w); err != nil {
		return types.QueryItem{}, err
	}
	switch w.Kind {
	case "image":
		return types.NewImageQuery(w.Image), nil
	case "dict":
		return types.NewDictQuery(w.Fields), nil
	default:
		return types.QueryItem{Kind: types.QueryKindText, Text: w.Text}, nil
	}
}

type wireResult struct {
	ObjectID string                 `json:"object_id"`
	Rank     *float64               `json:"rank,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

func encodeResults(items []types.SearchResultItem) ([]byte, error) {
	w := make([]wireResult, len(items))
	for i, it := range items {
		w[i] = wireResult{ObjectID: it.ObjectID, Rank: it.Rank, Payload: it.Payload}
	}
	return json.Marshal(w)
}

func decodeResults(raw []byte) ([]types.SearchResultItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var w []wireResult
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	out := make([]types.SearchResultItem, len(w))
	for i, it := range w {
		out[i] = types.SearchResultItem{ObjectID: it.ObjectID, Rank: it.Rank, Payload: it.Payload}
	}
	return out, nil
}

func encodeMeta(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func decodeMeta(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
