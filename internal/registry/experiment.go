package registry

import (
	"context"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/rivermuse/finetune-engine/internal/finetune/collab"
	"github.com/rivermuse/finetune-engine/internal/finetune/ferrors"
	"github.com/rivermuse/finetune-engine/internal/finetune/retry"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
	"github.com/rivermuse/finetune-engine/internal/metrics"
)

// AccumKind selects one of the metric accumulators named in spec §4.9
// ("mean, sliding, min, max").
type AccumKind string

const (
	AccumMean    AccumKind = "mean"
	AccumSliding AccumKind = "sliding"
	AccumMin     AccumKind = "min"
	AccumMax     AccumKind = "max"
)

// MetricSpec configures how one named metric is aggregated across the
// calls to SaveMetric a run makes (spec §4.9).
type MetricSpec struct {
	Kind       AccumKind
	WindowSize int // only used by AccumSliding; default 10
}

// accumulator tracks one (run, metric) pair's running aggregate.
type accumulator struct {
	spec    MetricSpec
	values  []float64 // sliding window only
	sum     float64
	count   int
	extreme float64
	hasExt  bool
}

func (a *accumulator) observe(v float64) float64 {
	switch a.spec.Kind {
	case AccumMin:
		if !a.hasExt || v < a.extreme {
			a.extreme, a.hasExt = v, true
		}
		return a.extreme
	case AccumMax:
		if !a.hasExt || v > a.extreme {
			a.extreme, a.hasExt = v, true
		}
		return a.extreme
	case AccumSliding:
		window := a.spec.WindowSize
		if window <= 0 {
			window = 10
		}
		a.values = append(a.values, v)
		if len(a.values) > window {
			a.values = a.values[len(a.values)-window:]
		}
		var sum float64
		for _, x := range a.values {
			sum += x
		}
		return sum / float64(len(a.values))
	default: // AccumMean
		a.sum += v
		a.count++
		return a.sum / float64(a.count)
	}
}

// ExperimentRegistry implements C8 (spec §4.9): the plugin -> iteration ->
// run hierarchy, best-model election, and the retry envelope around every
// backend call. Adapted from this package's own teacher shape (a Temporal
// WorkflowRegistrar/ActivityRegistrar pair, see registry.go) by keeping the
// "name -> entry, with metadata" registration-table idea but retargeting
// every operation at iterations/runs/models instead of workflows/
// activities, per spec §4.9/§9.
type ExperimentRegistry struct {
	store  collab.ArtifactStore
	policy retry.Policy
	logger *zap.Logger

	mu           sync.Mutex
	current      string
	accumulators map[string]*accumulator // key: iteration/run/metric
}

// NewExperimentRegistry wraps an ArtifactStore backend with the retry
// envelope and in-memory metric accumulators spec'd in §4.9.
func NewExperimentRegistry(store collab.ArtifactStore, policy retry.Policy, logger *zap.Logger) *ExperimentRegistry {
	return &ExperimentRegistry{
		store:        store,
		policy:       policy,
		logger:       logger,
		accumulators: make(map[string]*accumulator),
	}
}

func (r *ExperimentRegistry) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := 0
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			metrics.RegistryRetryAttempts.WithLabelValues(op).Inc()
		}
		return fn(ctx)
	})
	if ferrors.IsMaxAttempts(err) {
		metrics.RegistryMaxAttemptsReached.WithLabelValues(op).Inc()
	}
	return err
}

// SetIteration implements spec §4.9's set_iteration: create the iteration
// if absent and make it current; if an iteration with the same name
// already exists and is archived, rename it (append "_archive") first so a
// fresh iteration can take the name.
func (r *ExperimentRegistry) SetIteration(ctx context.Context, iteration types.FineTuningIteration) error {
	name := iteration.Name()
	var existing collab.ExperimentRecord
	err := r.withRetry(ctx, "get_experiment", func(ctx context.Context) error {
		var getErr error
		existing, getErr = r.store.GetExperiment(ctx, name)
		return getErr
	})
	switch {
	case err == nil && existing.Archived:
		if renameErr := r.withRetry(ctx, "rename_iteration", func(ctx context.Context) error {
			return r.store.RenameIteration(ctx, name, name+"_archive")
		}); renameErr != nil {
			return renameErr
		}
	case err != nil && !ferrors.IsNotFound(err):
		return err
	}

	if createErr := r.withRetry(ctx, "create_iteration", func(ctx context.Context) error {
		return r.store.CreateIteration(ctx, name)
	}); createErr != nil {
		return createErr
	}

	r.mu.Lock()
	r.current = name
	r.mu.Unlock()
	return nil
}

// SetRun implements spec §4.9's set_run: create a run named params.ID();
// if the run already exists as FINISHED, report true so the driver can
// skip re-running it.
func (r *ExperimentRegistry) SetRun(ctx context.Context, iteration string, params types.FineTuningParams) (finished bool, err error) {
	runName := params.ID()
	var status string
	var exists bool
	if err = r.withRetry(ctx, "run_status", func(ctx context.Context) error {
		var e error
		status, exists, e = r.store.RunStatus(ctx, iteration, runName)
		return e
	}); err != nil {
		return false, err
	}
	if exists && status == "FINISHED" {
		return true, nil
	}

	if err = r.withRetry(ctx, "create_run", func(ctx context.Context) error {
		return r.store.CreateRun(ctx, iteration, runName)
	}); err != nil {
		return false, err
	}
	for key, value := range params.ToMap() {
		if logErr := r.withRetry(ctx, "log_param", func(ctx context.Context) error {
			return r.store.LogParam(ctx, iteration, runName, key, value)
		}); logErr != nil {
			return false, logErr
		}
	}
	return false, nil
}

// SaveMetric implements spec §4.9's save_metric: feed value through the
// configured accumulator for (iteration, runName, metricName) and log the
// newly aggregated value.
func (r *ExperimentRegistry) SaveMetric(ctx context.Context, iteration, runName, metricName string, value float64, spec MetricSpec, step int) (float64, error) {
	key := iteration + "/" + runName + "/" + metricName
	r.mu.Lock()
	acc, ok := r.accumulators[key]
	if !ok {
		acc = &accumulator{spec: spec}
		r.accumulators[key] = acc
	}
	aggregated := acc.observe(value)
	r.mu.Unlock()

	err := r.withRetry(ctx, "log_metric", func(ctx context.Context) error {
		return r.store.LogMetric(ctx, iteration, runName, metricName, aggregated, step)
	})
	return aggregated, err
}

// GetBestQuality returns the best main_metric among eligible runs (spec
// §4.9's best-model filter: model_uploaded=1, status=FINISHED) in
// iteration, and whether any eligible run exists.
func (r *ExperimentRegistry) GetBestQuality(ctx context.Context, iteration string, higherIsBetter bool) (runName string, quality float64, found bool, err error) {
	uploaded := true
	var records []collab.RunRecord
	err = r.withRetry(ctx, "search_runs", func(ctx context.Context) error {
		var e error
		records, e = r.store.SearchRuns(ctx, iteration, collab.RunFilter{Status: "FINISHED", ModelUploaded: &uploaded})
		return e
	})
	if err != nil {
		return "", 0, false, err
	}
	for _, rec := range records {
		v, ok := rec.Metrics["main_metric"]
		if !ok {
			continue
		}
		if !found || (higherIsBetter && v > quality) || (!higherIsBetter && v < quality) {
			runName, quality, found = rec.Name, v, true
		}
	}
	return runName, quality, found, nil
}

// SaveModel implements spec §4.9's save_model: write the artifact, mark
// model_uploaded=1, and (when bestOnly and this run wins) request deletion
// of the previous best artifact.
func (r *ExperimentRegistry) SaveModel(ctx context.Context, iteration, runName string, model io.Reader, mainMetric float64, higherIsBetter bool, bestOnly bool) (elected bool, err error) {
	if bestOnly {
		prevRun, prevQuality, found, qErr := r.GetBestQuality(ctx, iteration, higherIsBetter)
		if qErr != nil {
			return false, qErr
		}
		if found && !((higherIsBetter && mainMetric > prevQuality) || (!higherIsBetter && mainMetric < prevQuality)) {
			return false, nil
		}
		if err = r.withRetry(ctx, "log_model", func(ctx context.Context) error {
			return r.store.LogModel(ctx, iteration, runName, model)
		}); err != nil {
			return false, err
		}
		if _, err = r.SaveMetric(ctx, iteration, runName, "model_uploaded", 1, MetricSpec{Kind: AccumMax}, 0); err != nil {
			return false, err
		}
		metrics.ModelsUploaded.WithLabelValues(iteration).Inc()
		if found && prevRun != runName {
			if delErr := r.withRetry(ctx, "delete_model", func(ctx context.Context) error {
				return r.store.DeleteModel(ctx, iteration, prevRun)
			}); delErr != nil {
				r.logger.Warn("failed to delete superseded model artifact", zap.String("iteration", iteration), zap.String("run", prevRun), zap.Error(delErr))
			} else {
				metrics.ModelsDeleted.WithLabelValues(iteration).Inc()
			}
		}
		return true, nil
	}

	if err = r.withRetry(ctx, "log_model", func(ctx context.Context) error {
		return r.store.LogModel(ctx, iteration, runName, model)
	}); err != nil {
		return false, err
	}
	_, err = r.SaveMetric(ctx, iteration, runName, "model_uploaded", 1, MetricSpec{Kind: AccumMax}, 0)
	return true, err
}

// FinishRun implements spec §4.9's finish_run: close the run as FINISHED
// or FAILED.
func (r *ExperimentRegistry) FinishRun(ctx context.Context, iteration, runName string, asFailed bool) error {
	return r.withRetry(ctx, "finish_run", func(ctx context.Context) error {
		return r.store.FinishRun(ctx, iteration, runName, asFailed)
	})
}

// GetTopParams implements spec §4.9's get_top_params: up to n parameter
// sets from iteration's finished, model-uploaded runs, sorted by main
// metric direction (best first).
func (r *ExperimentRegistry) GetTopParams(ctx context.Context, iteration string, n int, higherIsBetter bool) ([]types.FineTuningParams, error) {
	uploaded := true
	var records []collab.RunRecord
	if err := r.withRetry(ctx, "search_runs", func(ctx context.Context) error {
		var e error
		records, e = r.store.SearchRuns(ctx, iteration, collab.RunFilter{Status: "FINISHED", ModelUploaded: &uploaded})
		return e
	}); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		vi, vj := records[i].Metrics["main_metric"], records[j].Metrics["main_metric"]
		if higherIsBetter {
			return vi > vj
		}
		return vi < vj
	})

	if n > 0 && len(records) > n {
		records = records[:n]
	}
	out := make([]types.FineTuningParams, 0, len(records))
	for _, rec := range records {
		p, err := types.ParamsFromMap(rec.Params)
		if err != nil {
			r.logger.Warn("skipping unreadable top param set", zap.String("run", rec.Name), zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// GetLastModel resolves the model artifact of the last run SearchRuns
// returns for iteration, regardless of election (spec §4.9's
// get_last_model). Runs of any status are considered, and the backend's
// result order decides which run is last; the runs are not sorted by
// finish time.
func (r *ExperimentRegistry) GetLastModel(ctx context.Context, iteration string) (io.ReadCloser, error) {
	var records []collab.RunRecord
	if err := r.withRetry(ctx, "search_runs", func(ctx context.Context) error {
		var e error
		records, e = r.store.SearchRuns(ctx, iteration, collab.RunFilter{})
		return e
	}); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ferrors.New(ferrors.KindNotFound, "no runs in iteration: "+iteration)
	}
	last := records[len(records)-1]
	var rc io.ReadCloser
	err := r.withRetry(ctx, "load_model", func(ctx context.Context) error {
		var e error
		rc, e = r.store.LoadModel(ctx, iteration, last.Name)
		return e
	})
	return rc, err
}

// GetBestModel resolves the elected-best model artifact of iteration
// (spec §4.9's get_best_model).
func (r *ExperimentRegistry) GetBestModel(ctx context.Context, iteration string, higherIsBetter bool) (io.ReadCloser, error) {
	runName, _, found, err := r.GetBestQuality(ctx, iteration, higherIsBetter)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ferrors.New(ferrors.KindNotFound, "no elected best model for iteration: "+iteration)
	}
	var rc io.ReadCloser
	err = r.withRetry(ctx, "load_model", func(ctx context.Context) error {
		var e error
		rc, e = r.store.LoadModel(ctx, iteration, runName)
		return e
	})
	return rc, err
}

// GetCurrentModel resolves the best model of the currently-set iteration
// (spec §4.9's get_current_model).
func (r *ExperimentRegistry) GetCurrentModel(ctx context.Context, higherIsBetter bool) (io.ReadCloser, error) {
	r.mu.Lock()
	iteration := r.current
	r.mu.Unlock()
	if iteration == "" {
		return nil, ferrors.New(ferrors.KindNotFound, "no current iteration set")
	}
	return r.GetBestModel(ctx, iteration, higherIsBetter)
}

// DeletePreviousIteration implements spec §4.9's delete_previous_iteration
// and §4.8's "on completion, delete the previous iteration's artifacts
// (but retain the iteration metadata with a renamed archive suffix)":
// every run's model is deleted, then the iteration itself is archived.
func (r *ExperimentRegistry) DeletePreviousIteration(ctx context.Context, iteration string) error {
	var records []collab.RunRecord
	if err := r.withRetry(ctx, "search_runs", func(ctx context.Context) error {
		var e error
		records, e = r.store.SearchRuns(ctx, iteration, collab.RunFilter{})
		return e
	}); err != nil {
		return err
	}
	for _, rec := range records {
		if delErr := r.withRetry(ctx, "delete_model", func(ctx context.Context) error {
			return r.store.DeleteModel(ctx, iteration, rec.Name)
		}); delErr != nil {
			r.logger.Warn("failed to delete previous-iteration model", zap.String("iteration", iteration), zap.String("run", rec.Name), zap.Error(delErr))
			continue
		}
		metrics.ModelsDeleted.WithLabelValues(iteration).Inc()
	}
	return r.withRetry(ctx, "archive_iteration", func(ctx context.Context) error {
		return r.store.DeleteIteration(ctx, iteration)
	})
}
