package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleInput() FineTuningInput {
	ranks := map[string]*float64{}
	for id, v := range map[string]float64{"A": 0.9, "B": 0.5, "C": 0.1} {
		v := v
		ranks[id] = &v
	}
	return FineTuningInput{
		Query:      NewTextQuery("hat", nil),
		Results:    []string{"A", "B", "C"},
		Events:     []string{"A"},
		Ranks:      ranks,
		EventTypes: []float64{1},
	}
}

func TestInputInvariants(t *testing.T) {
	in := sampleInput()
	require.NoError(t, in.Validate())
	require.Equal(t, []string{"B", "C"}, in.NotEvents())
}

func TestRemoveResults_RecomputesIrrelevantAndPrunesRanks(t *testing.T) {
	in := sampleInput()
	in.RemoveResults([]string{"A"})
	require.Equal(t, []string{"B", "C"}, in.Results)
	require.Empty(t, in.Events)
	require.True(t, in.IsIrrelevant)
	require.NoError(t, in.Validate())
	_, ok := in.Ranks["A"]
	require.False(t, ok)
}

func TestRemoveResults_RemovesPartIDsWithObject(t *testing.T) {
	ranks := map[string]*float64{}
	for _, id := range []string{"p1", "p2", "X"} {
		v := 0.5
		ranks[id] = &v
	}
	in := FineTuningInput{
		Results:          []string{"p1", "p2", "X"},
		Events:           []string{"p1"},
		EventTypes:       []float64{1},
		Ranks:            ranks,
		PartToObjectDict: map[string]string{"p1": "obj", "p2": "obj"},
	}
	in.RemoveResults([]string{"obj"})
	require.Equal(t, []string{"X"}, in.Results)
	require.True(t, in.IsIrrelevant)
	require.NoError(t, in.Validate())
}

func TestGetObjectID(t *testing.T) {
	in := sampleInput()
	require.Equal(t, "A", in.GetObjectID("A"))
	in.PartToObjectDict = map[string]string{"A": "obj"}
	require.Equal(t, "obj", in.GetObjectID("A"))
	require.Equal(t, "B", in.GetObjectID("B"))
}

func TestEventImportanceDefaults(t *testing.T) {
	click := SessionEvent{EventType: "click"}
	require.Equal(t, 1.0, click.ImportanceOrDefault())
	blank := SessionEvent{}
	require.Equal(t, 1.0, blank.ImportanceOrDefault())
	weighted := SessionEvent{EventType: "add-to-cart", Importance: 2.5}
	require.Equal(t, 2.5, weighted.ImportanceOrDefault())
}
