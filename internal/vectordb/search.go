package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rivermuse/finetune-engine/internal/tracing"
)

// ScrollPage is one page of a paginated scroll over the items collection,
// backing the reference DataLoader's load_all(batch_size, ...) contract: a
// lazy, finite sequence of batches.
type ScrollPage struct {
	Items      []ItemVector
	NextOffset string // empty when there are no further pages
}

// ScrollItems retrieves up to batchSize points from the items collection
// starting after offset (empty offset starts from the beginning), with an
// optional Qdrant filter restricting the source (mirrors **source_params in
// the data loader interface).
func (c *Client) ScrollItems(ctx context.Context, batchSize int, offset string, filter map[string]interface{}) (ScrollPage, error) {
	if c == nil || !c.cfg.Enabled {
		return ScrollPage{}, fmt.Errorf("vectordb: client disabled")
	}
	if batchSize <= 0 {
		batchSize = c.cfg.TopK
	}

	url := fmt.Sprintf("%s/collections/%s/points/scroll", c.base, c.cfg.Items)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	body := map[string]interface{}{
		"limit":        batchSize,
		"with_payload": true,
		"with_vector":  true,
	}
	if offset != "" {
		body["offset"] = offset
	}
	if filter != nil {
		body["filter"] = filter
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return ScrollPage{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		return ScrollPage{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ScrollPage{}, fmt.Errorf("qdrant scroll status %d", resp.StatusCode)
	}

	var r struct {
		Result struct {
			Points         []qdrantPoint `json:"points"`
			NextPageOffset interface{}   `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return ScrollPage{}, err
	}

	page := ScrollPage{Items: make([]ItemVector, 0, len(r.Result.Points))}
	for _, p := range r.Result.Points {
		page.Items = append(page.Items, toItemVector(p))
	}
	if r.Result.NextPageOffset != nil {
		page.NextOffset = fmt.Sprintf("%v", r.Result.NextPageOffset)
	}
	return page, nil
}
