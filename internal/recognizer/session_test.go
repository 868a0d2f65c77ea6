package recognizer

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c43892/storyteller/internal/bufferpool"
	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/observability/metrics"
)

func drain(s *Session) []Result {
	var out []Result
	for {
		r, ok := s.NextResult()
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

func TestSessionPassesEngineConfig(t *testing.T) {
	t.Parallel()
	model := newFakeModel()
	s := NewSession(model, Options{
		Vocabulary:      BuildVocabulary([]string{"Light", "on", UnknownWord}),
		Words:           true,
		MaxAlternatives: 3,
	})

	require.NoError(t, s.Start(16000))
	s.Stop()
	s.Wait()

	assert.Equal(t, EngineConfig{
		SampleRate:      16000,
		Vocabulary:      `["light","on","[unk]"]`,
		Words:           true,
		MaxAlternatives: 3,
	}, model.lastConfig())
}

func TestSessionClassifiesResults(t *testing.T) {
	t.Parallel()
	model := newFakeModel()
	model.engine.partial = `{"partial": "hello wor"}`
	model.engine.result = `{"text": "hello world"}`
	model.engine.final = `{"text": "goodbye"}`

	s := NewSession(model, Options{})
	require.NoError(t, s.Start(16000))

	require.NoError(t, s.EnqueueSamples([]int16{1, 2, 3}, 3))
	require.NoError(t, s.EnqueueSamples([]int16{boundaryMarker, 5}, 2))
	s.Stop()
	s.Wait()

	results := drain(s)
	require.Len(t, results, 3)
	assert.Equal(t, PartialResult{Text: "hello wor"}, results[0])
	assert.Equal(t, FinalResult{Text: "hello world"}, results[1])
	assert.Equal(t, FinalResult{Text: "goodbye"}, results[2])

	assert.NoError(t, s.Err())
	assert.True(t, model.engine.isClosed())
	assert.Equal(t, StateIdle, s.State())
}

func TestSessionSuppressesEmptyResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		allowEmpty bool
		want       int
	}{
		{"empty partials dropped by default", false, 0},
		{"empty partials kept when allowed", true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			model := newFakeModel()
			s := NewSession(model, Options{AllowEmptyPartials: tt.allowEmpty})
			require.NoError(t, s.Start(8000))

			require.NoError(t, s.EnqueueSamples([]int16{1}, 1))
			require.NoError(t, s.EnqueueSamples([]int16{boundaryMarker}, 1)) // empty final
			require.NoError(t, s.EnqueueSamples([]int16{2}, 1))
			s.Stop()
			s.Wait()

			results := drain(s)
			assert.Len(t, results, tt.want)
			for _, r := range results {
				assert.Equal(t, "partial", r.Kind())
			}
		})
	}
}

func TestSessionPicksTopAlternative(t *testing.T) {
	t.Parallel()
	model := newFakeModel()
	model.engine.result = `{"alternatives": [
		{"confidence": 231.5, "text": "turn the light on"},
		{"confidence": 200.1, "text": "turn the lights on"}
	]}`

	s := NewSession(model, Options{MaxAlternatives: 2})
	require.NoError(t, s.Start(16000))
	require.NoError(t, s.EnqueueSamples([]int16{boundaryMarker}, 1))
	s.Stop()
	s.Wait()

	results := drain(s)
	require.Len(t, results, 1)
	final, ok := results[0].(FinalResult)
	require.True(t, ok)
	assert.Equal(t, "turn the light on", final.Text)
	require.Len(t, final.Alternatives, 2)
	assert.InDelta(t, 200.1, final.Alternatives[1].Confidence, 1e-9)
}

func TestSessionFeedsEngineInOrderAndCopiesSamples(t *testing.T) {
	t.Parallel()
	model := newFakeModel()
	pool := bufferpool.MustNew[int16](bufferpool.Config{MinSize: 4, MaxSize: 64, PerBucket: 4})
	s := NewSession(model, Options{Pool: pool})
	require.NoError(t, s.Start(16000))

	src := make([]int16, 8)
	for i := range 50 {
		for j := range src {
			src[j] = int16(i)
		}
		// Only the first five samples are valid.
		require.NoError(t, s.EnqueueSamples(src, 5))
	}
	s.Stop()
	s.Wait()

	fed := model.engine.fedChunks()
	require.Len(t, fed, 50)
	for i, c := range fed {
		assert.Equal(t, []int16{int16(i), int16(i), int16(i), int16(i), int16(i)}, c)
	}
	assert.Equal(t, uint64(50), pool.Stats().Returned+pool.Stats().Dropped)
}

func TestSessionCrashIsReported(t *testing.T) {
	t.Parallel()
	model := newFakeModel()
	model.engine.partial = `{"partial": "one"}`
	pool := bufferpool.MustNew[int16](bufferpool.Config{MinSize: 4, MaxSize: 64, PerBucket: 16})

	s := NewSession(model, Options{Pool: pool})
	require.NoError(t, s.Start(16000))
	require.NoError(t, s.EnqueueSamples([]int16{1}, 1))
	require.NoError(t, s.EnqueueSamples([]int16{failMarker}, 1))
	s.Wait()

	err := s.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEngineFailure)
	assert.False(t, s.IsRecognizing())
	assert.Equal(t, StateIdle, s.State())
	assert.True(t, model.engine.isClosed())

	// Results produced before the failure are still delivered.
	results := drain(s)
	require.Len(t, results, 1)
	assert.Equal(t, "one", results[0].Transcript())

	err = s.EnqueueSamples([]int16{1}, 1)
	assert.ErrorIs(t, err, errors.ErrState)
}

func TestSessionPanicInEngineIsCrash(t *testing.T) {
	t.Parallel()
	model := newFakeModel()
	model.engine.panicOn = 42

	s := NewSession(model, Options{})
	require.NoError(t, s.Start(16000))
	require.NoError(t, s.EnqueueSamples([]int16{42}, 1))
	s.Wait()

	require.Error(t, s.Err())
	assert.True(t, errors.IsCategory(s.Err(), errors.CategoryEngineFailure))
}

func TestSessionEngineConstructionFailure(t *testing.T) {
	t.Parallel()
	model := newFakeModel()
	model.err = errors.Newf("bad grammar").Category(errors.CategoryInvalidFormat).Build()

	s := NewSession(model, Options{})
	require.NoError(t, s.Start(16000))
	s.Wait()

	require.Error(t, s.Err())
	assert.ErrorIs(t, s.Err(), errors.ErrEngineFailure)
	assert.Contains(t, s.Err().Error(), "bad grammar")
}

func TestSessionRejectsInvalidCalls(t *testing.T) {
	t.Parallel()
	s := NewSession(newFakeModel(), Options{})

	assert.ErrorIs(t, s.EnqueueSamples([]int16{1}, 1), errors.ErrState, "enqueue while idle")
	assert.ErrorIs(t, s.Start(0), errors.ErrInvalidArgument)
	assert.ErrorIs(t, NewSession(nil, Options{}).Start(16000), errors.ErrInvalidArgument)

	require.NoError(t, s.Start(16000))
	assert.ErrorIs(t, s.Start(16000), errors.ErrState, "start while running")
	assert.ErrorIs(t, s.EnqueueSamples([]int16{1}, 2), errors.ErrInvalidArgument)
	assert.ErrorIs(t, s.EnqueueSamples([]int16{1}, -1), errors.ErrInvalidArgument)

	s.Stop()
	s.Stop()
	s.Wait()
	assert.NoError(t, s.Err())
}

func TestSessionRestart(t *testing.T) {
	t.Parallel()
	model := newFakeModel()
	model.engine.final = `{"text": "done"}`
	s := NewSession(model, Options{})

	for range 3 {
		require.NoError(t, s.Start(16000))
		require.NoError(t, s.EnqueueSamples([]int16{1}, 1))
		s.Stop()
	}
	s.Wait()

	results := drain(s)
	assert.Len(t, results, 3)
	assert.Len(t, model.configs, 3)
}

func TestSessionMetrics(t *testing.T) {
	t.Parallel()
	m, err := metrics.NewRecognizerMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	model := newFakeModel()
	model.engine.result = `{"text": "hi"}`
	s := NewSession(model, Options{Metrics: m})
	require.NoError(t, s.Start(16000))
	require.NoError(t, s.EnqueueSamples([]int16{boundaryMarker, 1, 2}, 3))
	s.Stop()
	s.Wait()

	assert.Equal(t, 1, testutil.CollectAndCount(m, "storyteller_recognition_results_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(m, "storyteller_recognition_sessions_total"))
}
