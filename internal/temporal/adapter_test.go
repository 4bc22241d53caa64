package temporal

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSafeZapField_TruncatesLongSlices(t *testing.T) {
	ranks := make([]float64, 1000)
	field := safeZapField("positive_ranks", ranks)
	require.Equal(t, "positive_ranks", field.Key)
	require.Contains(t, field.String, "len=1000")
	require.Contains(t, field.String, "truncated")
}

func TestSafeZapField_KeepsShortSlices(t *testing.T) {
	ranks := []float64{0.9, 0.7}
	field := safeZapField("positive_ranks", ranks)
	require.Equal(t, "positive_ranks", field.Key)
	require.NotEqual(t, zapcore.StringType, field.Type)
}

func TestSafeZapField_HandlesNil(t *testing.T) {
	field := safeZapField("x", nil)
	require.Equal(t, "<nil>", field.String)
}

func TestSafeZapField_RecoversFromUnserializableFunc(t *testing.T) {
	field := safeZapField("fn", func() {})
	require.Equal(t, "<func>", field.String)
}
