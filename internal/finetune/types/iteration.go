package types

import "fmt"

// FineTuningIteration identifies one experiment-registry iteration: all
// runs for one released batch and one plugin, optionally continuing from
// the best run of the prior iteration (spec §3).
type FineTuningIteration struct {
	BatchID    string
	PluginName string
	RunID      *string
}

// String renders the iteration identity as "{plugin_name} / iteration /
// {run_id} / {batch_id}" (spec §3), with run_id rendered as "-" when absent.
func (it FineTuningIteration) String() string {
	runID := "-"
	if it.RunID != nil {
		runID = *it.RunID
	}
	return fmt.Sprintf("%s / iteration / %s / %s", it.PluginName, runID, it.BatchID)
}

// Name is the experiment-registry-facing identifier for this iteration,
// used as the Postgres/Temporal key.
func (it FineTuningIteration) Name() string {
	return fmt.Sprintf("%s-%s", it.PluginName, it.BatchID)
}
