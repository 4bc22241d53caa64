package collab

import (
	"context"
	"sync"
)

// MemoryLoader is a reference DataLoader implementation backed by an
// in-process map. It exists to exercise C4-C8 in tests and small
// deployments without a production S3/GCS/SQL loader (spec §1's
// non-goals explicitly exclude those).
type MemoryLoader struct {
	mu    sync.RWMutex
	items map[string]map[string]interface{}
}

func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{items: make(map[string]map[string]interface{})}
}

// Put registers (or replaces) one item payload.
func (l *MemoryLoader) Put(id string, payload map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[id] = payload
}

func (l *MemoryLoader) TotalCount(_ context.Context, _ map[string]interface{}) (*int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.items)
	return &n, nil
}

func (l *MemoryLoader) LoadItems(_ context.Context, metas []DataLoaderItemMeta) ([]DownloadedItem, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]DownloadedItem, 0, len(metas))
	for _, m := range metas {
		payload := l.items[m.ID]
		out = append(out, DownloadedItem{ID: m.ID, Payload: payload})
	}
	return out, nil
}

func (l *MemoryLoader) LoadAll(ctx context.Context, batchSize int, _ map[string]interface{}) (<-chan []DownloadedItem, error) {
	l.mu.RLock()
	ids := make([]string, 0, len(l.items))
	for id := range l.items {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	if batchSize <= 0 {
		batchSize = len(ids)
		if batchSize == 0 {
			batchSize = 1
		}
	}

	out := make(chan []DownloadedItem)
	go func() {
		defer close(out)
		for i := 0; i < len(ids); i += batchSize {
			end := i + batchSize
			if end > len(ids) {
				end = len(ids)
			}
			batch, err := l.LoadItems(ctx, metasFor(ids[i:end]))
			if err != nil {
				return
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func metasFor(ids []string) []DataLoaderItemMeta {
	out := make([]DataLoaderItemMeta, len(ids))
	for i, id := range ids {
		out[i] = DataLoaderItemMeta{ID: id}
	}
	return out
}

var _ DataLoader = (*MemoryLoader)(nil)
