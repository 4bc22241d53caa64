package convert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rivermuse/finetune-engine/internal/finetune/ferrors"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

func TestConvert_SingleClick(t *testing.T) {
	c := New(nil, nil)
	rank := 0.9
	sw := types.SessionWithEvents{
		Session: types.Session{
			SessionID:   "s1",
			SearchQuery: types.NewTextQuery("hat", nil),
			SearchResults: []types.SearchResultItem{
				{ObjectID: "A", Rank: &rank},
				{ObjectID: "B"},
				{ObjectID: "C"},
			},
			CreatedAt: time.Now(),
		},
		Events: []types.SessionEvent{
			{SessionID: "s1", EventID: "e1", ObjectID: "A", EventType: "click"},
		},
	}

	input, err := c.Convert(sw)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, input.Results)
	require.Equal(t, []string{"A"}, input.Events)
	require.False(t, input.IsIrrelevant)
	require.Equal(t, []string{"B", "C"}, input.NotEvents())
	require.Len(t, input.Ranks, 3)
}

func TestConvert_DropsEventNotInResults(t *testing.T) {
	c := New(nil, nil)
	sw := types.SessionWithEvents{
		Session: types.Session{
			SessionID:     "s1",
			SearchQuery:   types.NewTextQuery("hat", nil),
			SearchResults: []types.SearchResultItem{{ObjectID: "A"}},
			CreatedAt:     time.Now(),
		},
		Events: []types.SessionEvent{
			{SessionID: "s1", EventID: "e1", ObjectID: "ZZZ", EventType: "click"},
		},
	}

	input, err := c.Convert(sw)
	require.NoError(t, err)
	require.Empty(t, input.Events)
	require.True(t, input.IsIrrelevant)
}

func TestConvert_SchemaErrorOnFieldCollision(t *testing.T) {
	c := New(nil, nil)
	sw := types.SessionWithEvents{
		Session: types.Session{
			SessionID:     "s1",
			SearchQuery:   types.NewTextQuery("hat", nil),
			SearchMeta:    map[string]interface{}{"text": "collides"},
			SearchResults: []types.SearchResultItem{{ObjectID: "A"}},
			CreatedAt:     time.Now(),
		},
	}

	_, err := c.Convert(sw)
	require.Error(t, err)
	require.True(t, ferrors.IsSchema(err))
}
