package registry

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rivermuse/finetune-engine/internal/finetune/collab"
	"github.com/rivermuse/finetune-engine/internal/finetune/ferrors"
	"github.com/rivermuse/finetune-engine/internal/finetune/retry"
	"github.com/rivermuse/finetune-engine/internal/finetune/types"
)

// fakeStore is an in-memory collab.ArtifactStore used to exercise
// ExperimentRegistry's election, retry and archival logic without a
// Postgres-backed collaborator.
type fakeStore struct {
	mu          sync.Mutex
	experiments map[string]collab.ExperimentRecord
	runs        map[string]map[string]*collab.RunRecord // iteration -> run -> record
	models      map[string][]byte                        // "iteration/run" -> bytes
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		experiments: map[string]collab.ExperimentRecord{},
		runs:        map[string]map[string]*collab.RunRecord{},
		models:      map[string][]byte{},
	}
}

func (s *fakeStore) CreateIteration(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiments[name] = collab.ExperimentRecord{Name: name}
	if s.runs[name] == nil {
		s.runs[name] = map[string]*collab.RunRecord{}
	}
	return nil
}

func (s *fakeStore) RenameIteration(_ context.Context, name, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[name]
	if !ok {
		return ferrors.New(ferrors.KindNotFound, "no such iteration")
	}
	exp.Name = newName
	s.experiments[newName] = exp
	delete(s.experiments, name)
	s.runs[newName] = s.runs[name]
	delete(s.runs, name)
	return nil
}

func (s *fakeStore) DeleteIteration(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[name]
	if !ok {
		return ferrors.New(ferrors.KindNotFound, "no such iteration")
	}
	exp.Archived = true
	s.experiments[name] = exp
	return nil
}

func (s *fakeStore) CreateRun(_ context.Context, iteration, runName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[iteration] == nil {
		s.runs[iteration] = map[string]*collab.RunRecord{}
	}
	s.runs[iteration][runName] = &collab.RunRecord{Name: runName, Status: "RUNNING", Params: map[string]string{}, Metrics: map[string]float64{}}
	return nil
}

func (s *fakeStore) RunStatus(_ context.Context, iteration, runName string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[iteration][runName]
	if !ok {
		return "", false, nil
	}
	return rec.Status, true, nil
}

func (s *fakeStore) FinishRun(_ context.Context, iteration, runName string, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[iteration][runName]
	if !ok {
		return ferrors.New(ferrors.KindNotFound, "no such run")
	}
	if failed {
		rec.Status = "FAILED"
	} else {
		rec.Status = "FINISHED"
	}
	return nil
}

func (s *fakeStore) LogParam(_ context.Context, iteration, runName, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[iteration][runName].Params[key] = value
	return nil
}

func (s *fakeStore) LogMetric(_ context.Context, iteration, runName, key string, value float64, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[iteration][runName].Metrics[key] = value
	return nil
}

func (s *fakeStore) LogModel(_ context.Context, iteration, runName string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[iteration+"/"+runName] = b
	return nil
}

func (s *fakeStore) LoadModel(_ context.Context, iteration, runName string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.models[iteration+"/"+runName]
	if !ok {
		return nil, ferrors.New(ferrors.KindNotFound, "no such model")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *fakeStore) DeleteModel(_ context.Context, iteration, runName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.models, iteration+"/"+runName)
	return nil
}

func (s *fakeStore) SearchRuns(_ context.Context, iteration string, filter collab.RunFilter) ([]collab.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []collab.RunRecord
	for _, rec := range s.runs[iteration] {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.ModelUploaded != nil {
			_, uploaded := rec.Metrics["model_uploaded"]
			if uploaded != *filter.ModelUploaded {
				continue
			}
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *fakeStore) GetExperiment(_ context.Context, name string) (collab.ExperimentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[name]
	if !ok {
		return collab.ExperimentRecord{}, ferrors.New(ferrors.KindNotFound, "no such experiment")
	}
	return exp, nil
}

func (s *fakeStore) RenameExperiment(ctx context.Context, name, newName string) error {
	return s.RenameIteration(ctx, name, newName)
}

var _ collab.ArtifactStore = (*fakeStore)(nil)

func testParams(margin float64) types.FineTuningParams {
	return types.FineTuningParams{
		NumFixedLayers:            0,
		QueryLR:                   0.01,
		ItemsLR:                   0.01,
		QueryWeightDecay:          0,
		ItemsWeightDecay:          0,
		Margin:                    margin,
		NegativeDownsampling:      0.5,
		MinAbsDifferenceThreshold: 0,
		MaxAbsDifferenceThreshold: 1,
		ExamplesOrder:             []string{"default"},
	}
}

func newTestRegistry(store collab.ArtifactStore) *ExperimentRegistry {
	return NewExperimentRegistry(store, retry.Policy{MaxAttempts: 1}, zap.NewNop())
}

func TestSetRunSkipsFinished(t *testing.T) {
	store := newFakeStore()
	reg := newTestRegistry(store)
	ctx := context.Background()

	require.NoError(t, store.CreateIteration(ctx, "iter1"))
	params := testParams(1.0)

	finished, err := reg.SetRun(ctx, "iter1", params)
	require.NoError(t, err)
	require.False(t, finished)

	require.NoError(t, reg.FinishRun(ctx, "iter1", params.ID(), false))

	finished, err = reg.SetRun(ctx, "iter1", params)
	require.NoError(t, err)
	require.True(t, finished, "a FINISHED run must be reported so the driver can skip it")
}

func TestSaveMetricAccumulators(t *testing.T) {
	store := newFakeStore()
	reg := newTestRegistry(store)
	ctx := context.Background()
	require.NoError(t, store.CreateIteration(ctx, "iter1"))
	require.NoError(t, store.CreateRun(ctx, "iter1", "run1"))

	v, err := reg.SaveMetric(ctx, "iter1", "run1", "loss", 0.8, MetricSpec{Kind: AccumMean}, 0)
	require.NoError(t, err)
	require.InDelta(t, 0.8, v, 1e-9)

	v, err = reg.SaveMetric(ctx, "iter1", "run1", "loss", 0.4, MetricSpec{Kind: AccumMean}, 1)
	require.NoError(t, err)
	require.InDelta(t, 0.6, v, 1e-9)

	v, err = reg.SaveMetric(ctx, "iter1", "run1", "best", 0.9, MetricSpec{Kind: AccumMax}, 0)
	require.NoError(t, err)
	require.InDelta(t, 0.9, v, 1e-9)
	v, err = reg.SaveMetric(ctx, "iter1", "run1", "best", 0.3, MetricSpec{Kind: AccumMax}, 1)
	require.NoError(t, err)
	require.InDelta(t, 0.9, v, 1e-9, "max accumulator must not regress below its running max")
}

// TestBestModelElection matches spec §8 scenario 6: run B (0.8, higher
// better) beats run A (0.7); B's artifact is retained and A's is deleted.
func TestBestModelElection(t *testing.T) {
	store := newFakeStore()
	reg := newTestRegistry(store)
	ctx := context.Background()
	require.NoError(t, store.CreateIteration(ctx, "iter1"))

	require.NoError(t, store.CreateRun(ctx, "iter1", "runA"))
	require.NoError(t, store.LogMetric(ctx, "iter1", "runA", "main_metric", 0.7, 0))
	require.NoError(t, store.FinishRun(ctx, "iter1", "runA", false))
	elected, err := reg.SaveModel(ctx, "iter1", "runA", bytes.NewReader([]byte("model-a")), 0.7, true, true)
	require.NoError(t, err)
	require.True(t, elected)

	require.NoError(t, store.CreateRun(ctx, "iter1", "runB"))
	require.NoError(t, store.LogMetric(ctx, "iter1", "runB", "main_metric", 0.8, 0))
	require.NoError(t, store.FinishRun(ctx, "iter1", "runB", false))
	elected, err = reg.SaveModel(ctx, "iter1", "runB", bytes.NewReader([]byte("model-b")), 0.8, true, true)
	require.NoError(t, err)
	require.True(t, elected)

	runName, quality, found, err := reg.GetBestQuality(ctx, "iter1", true)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "runB", runName)
	require.InDelta(t, 0.8, quality, 1e-9)

	_, err = store.LoadModel(ctx, "iter1", "runA")
	require.Error(t, err, "the superseded model artifact must be deleted")

	rc, err := store.LoadModel(ctx, "iter1", "runB")
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "model-b", string(b))
}

func TestSaveModelBestOnlyRejectsWorse(t *testing.T) {
	store := newFakeStore()
	reg := newTestRegistry(store)
	ctx := context.Background()
	require.NoError(t, store.CreateIteration(ctx, "iter1"))

	require.NoError(t, store.CreateRun(ctx, "iter1", "runA"))
	require.NoError(t, store.LogMetric(ctx, "iter1", "runA", "main_metric", 0.9, 0))
	require.NoError(t, store.FinishRun(ctx, "iter1", "runA", false))
	elected, err := reg.SaveModel(ctx, "iter1", "runA", bytes.NewReader([]byte("model-a")), 0.9, true, true)
	require.NoError(t, err)
	require.True(t, elected)

	require.NoError(t, store.CreateRun(ctx, "iter1", "runC"))
	require.NoError(t, store.LogMetric(ctx, "iter1", "runC", "main_metric", 0.5, 0))
	require.NoError(t, store.FinishRun(ctx, "iter1", "runC", false))
	elected, err = reg.SaveModel(ctx, "iter1", "runC", bytes.NewReader([]byte("model-c")), 0.5, true, true)
	require.NoError(t, err)
	require.False(t, elected, "a worse run must not displace the current best")

	_, err = store.LoadModel(ctx, "iter1", "runA")
	require.NoError(t, err, "the still-best artifact must survive a rejected challenger")
}

func TestGetTopParamsSortsByDirection(t *testing.T) {
	store := newFakeStore()
	reg := newTestRegistry(store)
	ctx := context.Background()
	require.NoError(t, store.CreateIteration(ctx, "iter1"))

	for name, metric := range map[string]float64{"run1": 0.2, "run2": 0.9, "run3": 0.5} {
		params := testParams(metric)
		require.NoError(t, store.CreateRun(ctx, "iter1", name))
		for k, v := range params.ToMap() {
			require.NoError(t, store.LogParam(ctx, "iter1", name, k, v))
		}
		require.NoError(t, store.LogMetric(ctx, "iter1", name, "main_metric", metric, 0))
		require.NoError(t, store.FinishRun(ctx, "iter1", name, false))
		_, err := reg.SaveModel(ctx, "iter1", name, bytes.NewReader([]byte(name)), metric, true, false)
		require.NoError(t, err)
	}

	top, err := reg.GetTopParams(ctx, "iter1", 2, true)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.InDelta(t, 0.9, top[0].Margin, 1e-9)
	require.InDelta(t, 0.5, top[1].Margin, 1e-9)
}

func TestSetIterationArchivesCollidingName(t *testing.T) {
	store := newFakeStore()
	reg := newTestRegistry(store)
	ctx := context.Background()

	iter := types.FineTuningIteration{PluginName: "plugin", BatchID: "batch1"}
	require.NoError(t, reg.SetIteration(ctx, iter))
	name := iter.Name()

	require.NoError(t, store.DeleteIteration(ctx, name)) // simulate archived-from-a-prior-run

	require.NoError(t, reg.SetIteration(ctx, iter))

	archived, err := store.GetExperiment(ctx, name+"_archive")
	require.NoError(t, err)
	require.True(t, archived.Archived)

	fresh, err := store.GetExperiment(ctx, name)
	require.NoError(t, err)
	require.False(t, fresh.Archived)
}

func TestDeletePreviousIteration(t *testing.T) {
	store := newFakeStore()
	reg := newTestRegistry(store)
	ctx := context.Background()
	require.NoError(t, store.CreateIteration(ctx, "iter1"))
	require.NoError(t, store.CreateRun(ctx, "iter1", "run1"))
	require.NoError(t, reg.FinishRun(ctx, "iter1", "run1", false))
	_, err := reg.SaveModel(ctx, "iter1", "run1", bytes.NewReader([]byte("m")), 0.5, true, false)
	require.NoError(t, err)

	require.NoError(t, reg.DeletePreviousIteration(ctx, "iter1"))

	_, err = store.LoadModel(ctx, "iter1", "run1")
	require.Error(t, err, "models of a deleted iteration must be gone")

	exp, err := store.GetExperiment(ctx, "iter1")
	require.NoError(t, err)
	require.True(t, exp.Archived, "the iteration itself is archived, not removed")
}
