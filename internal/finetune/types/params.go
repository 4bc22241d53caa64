package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rivermuse/finetune-engine/internal/finetune/ferrors"
)

// FineTuningParams are the hyperparameters for one run (spec §3). Id is
// the SHA-256 of a canonical string form of the fields below, used as the
// deterministic run name in the experiment registry (set_run, spec §4.9).
type FineTuningParams struct {
	NumFixedLayers             int
	QueryLR                    float64
	ItemsLR                    float64
	QueryWeightDecay           float64
	ItemsWeightDecay           float64
	Margin                     float64
	NotIrrelevantOnly          bool
	NegativeDownsampling       float64
	MinAbsDifferenceThreshold  float64
	MaxAbsDifferenceThreshold  float64
	ExamplesOrder              []string
}

// Validate enforces the field constraints named in spec §3.
func (p FineTuningParams) Validate() error {
	switch {
	case p.NumFixedLayers < 0:
		return ferrors.New(ferrors.KindValidation, "num_fixed_layers must be >= 0")
	case p.QueryLR <= 0:
		return ferrors.New(ferrors.KindValidation, "query_lr must be > 0")
	case p.ItemsLR <= 0:
		return ferrors.New(ferrors.KindValidation, "items_lr must be > 0")
	case p.QueryWeightDecay < 0:
		return ferrors.New(ferrors.KindValidation, "query_weight_decay must be >= 0")
	case p.ItemsWeightDecay < 0:
		return ferrors.New(ferrors.KindValidation, "items_weight_decay must be >= 0")
	case p.Margin < 0:
		return ferrors.New(ferrors.KindValidation, "margin must be >= 0")
	case p.NegativeDownsampling <= 0 || p.NegativeDownsampling >= 1:
		return ferrors.New(ferrors.KindValidation, "negative_downsampling must be in (0,1)")
	case p.MinAbsDifferenceThreshold < 0:
		return ferrors.New(ferrors.KindValidation, "min_abs_difference_threshold must be >= 0")
	case p.MaxAbsDifferenceThreshold <= 0:
		return ferrors.New(ferrors.KindValidation, "max_abs_difference_threshold must be > 0")
	case len(p.ExamplesOrder) == 0:
		return ferrors.New(ferrors.KindValidation, "examples_order must be non-empty")
	}
	return nil
}

// canonicalString renders the params in a fixed field order so the SHA-256
// digest is stable regardless of struct field reordering elsewhere in the
// codebase.
func (p FineTuningParams) canonicalString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "num_fixed_layers=%d;", p.NumFixedLayers)
	fmt.Fprintf(&b, "query_lr=%.10g;", p.QueryLR)
	fmt.Fprintf(&b, "items_lr=%.10g;", p.ItemsLR)
	fmt.Fprintf(&b, "query_weight_decay=%.10g;", p.QueryWeightDecay)
	fmt.Fprintf(&b, "items_weight_decay=%.10g;", p.ItemsWeightDecay)
	fmt.Fprintf(&b, "margin=%.10g;", p.Margin)
	fmt.Fprintf(&b, "not_irrelevant_only=%t;", p.NotIrrelevantOnly)
	fmt.Fprintf(&b, "negative_downsampling=%.10g;", p.NegativeDownsampling)
	fmt.Fprintf(&b, "min_abs_difference_threshold=%.10g;", p.MinAbsDifferenceThreshold)
	fmt.Fprintf(&b, "max_abs_difference_threshold=%.10g;", p.MaxAbsDifferenceThreshold)
	fmt.Fprintf(&b, "examples_order=%s;", strings.Join(p.ExamplesOrder, ","))
	return b.String()
}

// ID computes the deterministic SHA-256 id used as the run name (spec §3,
// §4.9 set_run).
func (p FineTuningParams) ID() string {
	sum := sha256.Sum256([]byte(p.canonicalString()))
	return hex.EncodeToString(sum[:])
}

// ToMap renders the params as string fields suitable for the experiment
// registry's LogParam (spec §4.9, §6's "log param" artifact-store verb),
// one key per field.
func (p FineTuningParams) ToMap() map[string]string {
	return map[string]string{
		"num_fixed_layers":             fmt.Sprintf("%d", p.NumFixedLayers),
		"query_lr":                     fmt.Sprintf("%.10g", p.QueryLR),
		"items_lr":                     fmt.Sprintf("%.10g", p.ItemsLR),
		"query_weight_decay":           fmt.Sprintf("%.10g", p.QueryWeightDecay),
		"items_weight_decay":           fmt.Sprintf("%.10g", p.ItemsWeightDecay),
		"margin":                       fmt.Sprintf("%.10g", p.Margin),
		"not_irrelevant_only":          fmt.Sprintf("%t", p.NotIrrelevantOnly),
		"negative_downsampling":        fmt.Sprintf("%.10g", p.NegativeDownsampling),
		"min_abs_difference_threshold": fmt.Sprintf("%.10g", p.MinAbsDifferenceThreshold),
		"max_abs_difference_threshold": fmt.Sprintf("%.10g", p.MaxAbsDifferenceThreshold),
		"examples_order":               strings.Join(p.ExamplesOrder, ","),
	}
}

// ParamsFromMap reconstructs a FineTuningParams from the string fields
// ToMap produces, the inverse used by the experiment registry's
// get_top_params (spec §4.9) to rebuild a runnable parameter set from
// stored run params.
func ParamsFromMap(m map[string]string) (FineTuningParams, error) {
	var p FineTuningParams
	var err error
	readInt := func(key string) int {
		var v int
		if _, scanErr := fmt.Sscanf(m[key], "%d", &v); scanErr != nil && err == nil {
			err = ferrors.Wrap(ferrors.KindValidation, "parse "+key, scanErr)
		}
		return v
	}
	readFloat := func(key string) float64 {
		var v float64
		if _, scanErr := fmt.Sscanf(m[key], "%g", &v); scanErr != nil && err == nil {
			err = ferrors.Wrap(ferrors.KindValidation, "parse "+key, scanErr)
		}
		return v
	}
	p.NumFixedLayers = readInt("num_fixed_layers")
	p.QueryLR = readFloat("query_lr")
	p.ItemsLR = readFloat("items_lr")
	p.QueryWeightDecay = readFloat("query_weight_decay")
	p.ItemsWeightDecay = readFloat("items_weight_decay")
	p.Margin = readFloat("margin")
	p.NotIrrelevantOnly = m["not_irrelevant_only"] == "true"
	p.NegativeDownsampling = readFloat("negative_downsampling")
	p.MinAbsDifferenceThreshold = readFloat("min_abs_difference_threshold")
	p.MaxAbsDifferenceThreshold = readFloat("max_abs_difference_threshold")
	if order := m["examples_order"]; order != "" {
		p.ExamplesOrder = strings.Split(order, ",")
	}
	if err != nil {
		return FineTuningParams{}, err
	}
	return p, nil
}
