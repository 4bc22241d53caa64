package split

import (
	"math/rand"
	"strings"

	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// MisspellingAugmenter implements QueryAugmenter by emitting one extra
// input per configured error rate, each with its text query run through a
// keyboard-adjacent-typo generator (spec §4.3 step 6's "optional
// query-level augmentation"). Non-text queries pass through unmodified,
// since the source's equivalent augmenter only ever operated on tokenized
// text.
type MisspellingAugmenter struct {
	ErrorRates []float64 // default [0.1, 0.2] when empty
	Rand       *rand.Rand
}

// NewMisspellingAugmenter builds an augmenter with the given error rates
// and random source; an empty rates slice falls back to [0.1, 0.2].
func NewMisspellingAugmenter(errorRates []float64, rng *rand.Rand) *MisspellingAugmenter {
	if len(errorRates) == 0 {
		errorRates = []float64{0.1, 0.2}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &MisspellingAugmenter{ErrorRates: errorRates, Rand: rng}
}

// Augment returns one misspelled variant of input per configured error
// rate. Results and ranks are copied unchanged; only the query text
// changes (spec §4.3 step 6).
func (a *MisspellingAugmenter) Augment(input types.FineTuningInput) []types.FineTuningInput {
	if input.Query.Kind != types.QueryKindText || input.Query.Text == "" {
		return nil
	}

	out := make([]types.FineTuningInput, 0, len(a.ErrorRates))
	for _, rate := range a.ErrorRates {
		clone := input
		clone.Query = types.QueryItem{Kind: types.QueryKindText, Text: a.misspell(input.Query.Text, rate)}
		out = append(out, clone)
	}
	return out
}

// misspell reimplements introduce_misspellings_with_keyboard_map's word-
// level error injection: every whitespace-delimited token independently
// is picked with probability rate; a picked token receives one of the five
// error types below or, with equal odds to each of them, stays unchanged.
func (a *MisspellingAugmenter) misspell(text string, rate float64) string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text
	}

	errorTypes := []func(*rand.Rand, string) string{
		adjacentKeyError,
		deleteRandomCharacter,
		swapRandomAdjacentCharacters,
		insertRandomCharacter,
		randomSplit,
		nil, // leave token unchanged
	}

	out := make([]string, len(tokens))
	for i, tok := range tokens {
		if a.Rand.Float64() >= rate {
			out[i] = tok
			continue
		}
		fn := errorTypes[a.Rand.Intn(len(errorTypes))]
		if fn == nil {
			out[i] = tok
			continue
		}
		out[i] = fn(a.Rand, tok)
	}
	return strings.Join(out, " ")
}

// keyboardAdjacent mirrors the source's KEYBOARD_LAYOUT map, scoped to the
// QWERTY rows actually exercised by adjacentKeyError.
var keyboardAdjacent = map[byte]string{
	'q': "wa", 'w': "qeas", 'e': "wrsd", 'r': "edft", 't': "rfgy",
	'y': "tghu", 'u': "yhji", 'i': "ujko", 'o': "iklp", 'p': "ol",
	'a': "qwsz", 's': "weadzx", 'd': "erfcxs", 'f': "rtgvcd", 'g': "tyhbvf",
	'h': "yujnbg", 'j': "uikmnh", 'k': "iolmj", 'l': "opk",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn",
	'n': "bhjm", 'm': "njk",
}

func adjacentKeyError(rng *rand.Rand, word string) string {
	var sb strings.Builder
	for i := 0; i < len(word); i++ {
		c := word[i]
		if choices, ok := keyboardAdjacent[c]; ok && rng.Float64() < 0.1 {
			sb.WriteByte(choices[rng.Intn(len(choices))])
		} else {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func deleteRandomCharacter(rng *rand.Rand, word string) string {
	if len(word) <= 1 {
		return word
	}
	i := rng.Intn(len(word))
	return word[:i] + word[i+1:]
}

func swapRandomAdjacentCharacters(rng *rand.Rand, word string) string {
	if len(word) < 2 {
		return word
	}
	i := rng.Intn(len(word) - 1)
	b := []byte(word)
	b[i], b[i+1] = b[i+1], b[i]
	return string(b)
}

const lowercaseAlphabet = "abcdefghijklmnopqrstuvwxyz"

func insertRandomCharacter(rng *rand.Rand, word string) string {
	i := rng.Intn(len(word) + 1)
	c := lowercaseAlphabet[rng.Intn(len(lowercaseAlphabet))]
	return word[:i] + string(c) + word[i:]
}

func randomSplit(rng *rand.Rand, word string) string {
	if len(word) <= 1 {
		return word
	}
	i := 1 + rng.Intn(len(word)-1)
	return word[:i] + " " + word[i:]
}
