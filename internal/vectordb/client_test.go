package vectordb

import (
	"context"
	"testing"
)

func TestClientDisabled(t *testing.T) {
	Initialize(Config{Enabled: false})
	c := Get()
	if c == nil {
		t.Skip("client not initialized")
	}
	if _, err := c.GetItemVectors(context.Background(), []string{"item-1"}); err == nil {
		t.Fatalf("expected error when vectordb disabled")
	}
}
