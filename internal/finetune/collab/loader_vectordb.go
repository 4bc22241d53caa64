package collab

import (
	"context"
	"fmt"

	"github.com/rivermuse/finetune-engine/internal/vectordb"
)

// VectorDBLoader is the production DataLoader (spec §6) backed by the
// items collection the online similarity index already serves out of
// (internal/vectordb). It is the collaborator C4 actually talks to when
// resolving "used" result/event ids to item payloads: the fine-tuning
// engine re-embeds the same items the vector database holds for online
// search, so fetching payloads from there keeps the offline features and
// the online index looking at one item source of truth.
type VectorDBLoader struct {
	client *vectordb.Client
}

func NewVectorDBLoader(client *vectordb.Client) *VectorDBLoader {
	return &VectorDBLoader{client: client}
}

func (l *VectorDBLoader) TotalCount(ctx context.Context, _ map[string]interface{}) (*int, error) {
	// Qdrant's HTTP API exposes a collection point count via its info
	// endpoint, which vectordb.Client does not surface yet; scroll-count
	// is left to LoadAll callers rather than paying for a second endpoint.
	return nil, nil
}

func (l *VectorDBLoader) LoadItems(ctx context.Context, metas []DataLoaderItemMeta) ([]DownloadedItem, error) {
	ids := make([]string, len(metas))
	for i, m := range metas {
		ids[i] = m.ID
	}
	vecs, err := l.client.GetItemVectors(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("collab: vectordb load items: %w", err)
	}
	byID := make(map[string]vectordb.ItemVector, len(vecs))
	for _, v := range vecs {
		byID[v.ItemID] = v
	}
	out := make([]DownloadedItem, 0, len(metas))
	for _, m := range metas {
		v, ok := byID[m.ID]
		if !ok {
			out = append(out, DownloadedItem{ID: m.ID, Payload: nil})
			continue
		}
		payload := v.Payload
		if payload == nil {
			payload = map[string]interface{}{}
		}
		payload["vector"] = v.Vector
		out = append(out, DownloadedItem{ID: m.ID, Payload: payload})
	}
	return out, nil
}

func (l *VectorDBLoader) LoadAll(ctx context.Context, batchSize int, sourceParams map[string]interface{}) (<-chan []DownloadedItem, error) {
	out := make(chan []DownloadedItem)
	go func() {
		defer close(out)
		offset := ""
		for {
			page, err := l.client.ScrollItems(ctx, batchSize, offset, sourceParams)
			if err != nil {
				return
			}
			if len(page.Items) == 0 {
				return
			}
			batch := make([]DownloadedItem, 0, len(page.Items))
			for _, v := range page.Items {
				payload := v.Payload
				if payload == nil {
					payload = map[string]interface{}{}
				}
				payload["vector"] = v.Vector
				batch = append(batch, DownloadedItem{ID: v.ItemID, Payload: payload})
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
			if page.NextOffset == "" {
				return
			}
			offset = page.NextOffset
		}
	}()
	return out, nil
}

var _ DataLoader = (*VectorDBLoader)(nil)
