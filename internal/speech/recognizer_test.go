package speech

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/recognizer"
	"github.com/c43892/storyteller/internal/speechsource"
)

func TestRecognizerFinishesWhenSourceDries(t *testing.T) {
	t.Parallel()
	model := &fakeModel{finals: []string{"hello world"}}
	rec := New(Config{Provider: staticProvider{model}, Source: clip(t, 1, boundaryMarker, 0)})
	ev := newEvents()
	rec.Subscribe(ev)

	stop := loop(t, rec)
	require.NoError(t, rec.Start())
	ev.wait(t)
	stop()

	assert.Equal(t, []string{"partial:speaking", "final:hello world", "finished"}, ev.snapshot())
	assert.False(t, rec.IsRecognizing())
}

func TestRecognizerReportsCrash(t *testing.T) {
	t.Parallel()
	model := &fakeModel{}
	rec := New(Config{Provider: staticProvider{model}, Source: clip(t, 1, crashMarker, 1, 1)})
	ev := newEvents()
	rec.Subscribe(ev)

	stop := loop(t, rec)
	require.NoError(t, rec.Start())
	ev.wait(t)
	stop()

	got := ev.snapshot()
	assert.Equal(t, "crashed", got[len(got)-1])
	assert.NotContains(t, got, "finished")
	assert.ErrorIs(t, ev.err, errors.ErrEngineFailure)
}

func TestRecognizerReportsSourceFailure(t *testing.T) {
	t.Parallel()
	unplugged := errors.NewStd("device unplugged")
	r := io.MultiReader(bytes.NewReader([]byte{1, 0, 0xe8, 0x03}), iotest.ErrReader(unplugged))
	src, err := speechsource.NewStreamSource(r, speechsource.StreamConfig{SampleRate: 16000, ChunkSize: 1})
	require.NoError(t, err)

	rec := New(Config{Provider: staticProvider{&fakeModel{}}, Source: src})
	ev := newEvents()
	rec.Subscribe(ev)

	stop := loop(t, rec)
	require.NoError(t, rec.Start())
	ev.wait(t)
	stop()

	got := ev.snapshot()
	assert.Equal(t, "crashed", got[len(got)-1])
	assert.NotContains(t, got, "finished")
	assert.True(t, errors.IsCategory(ev.err, errors.CategoryAudioSource))
	assert.ErrorIs(t, ev.err, unplugged)
}

func TestRecognizerDispatchesInSubscriptionOrder(t *testing.T) {
	t.Parallel()
	model := &fakeModel{finals: []string{"hello"}}
	rec := New(Config{Provider: staticProvider{model}, Source: clip(t, boundaryMarker)})

	var mu sync.Mutex
	var order []int
	for i := range 6 {
		rec.Subscribe(HandlerFuncs{Final: func(recognizer.FinalResult) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}})
	}
	ev := newEvents()
	rec.Subscribe(ev)

	stop := loop(t, rec)
	require.NoError(t, rec.Start())
	ev.wait(t)
	stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
}

func TestRecognizerStopIsSilent(t *testing.T) {
	t.Parallel()
	src, err := speechsource.NewClipSource(make([]int16, 16000), 1000, speechsource.ClipConfig{ChunkSize: 10, Realtime: true})
	require.NoError(t, err)
	rec := New(Config{Provider: staticProvider{&fakeModel{}}, Source: src})
	ev := newEvents()
	rec.Subscribe(ev)

	require.NoError(t, rec.Start())
	assert.True(t, rec.IsRecognizing())
	rec.Stop()
	rec.Stop()
	assert.False(t, rec.IsRecognizing())

	for range 5 {
		rec.Tick()
	}
	rec.Wait()
	src.Wait()
	assert.Empty(t, ev.snapshot(), "a stopped run neither finishes nor crashes")
}

func TestRecognizerStartRestartsRun(t *testing.T) {
	t.Parallel()
	src, err := speechsource.NewClipSource(make([]int16, 16000), 1000, speechsource.ClipConfig{ChunkSize: 10, Realtime: true})
	require.NoError(t, err)
	model := &fakeModel{}
	rec := New(Config{Provider: staticProvider{model}, Source: src})

	require.NoError(t, rec.Start())
	require.NoError(t, rec.Start())
	assert.True(t, rec.IsRecognizing())
	assert.Len(t, model.engineConfigs(), 2)

	rec.Stop()
	rec.Wait()
	src.Wait()
}

func TestRecognizerRunsTwice(t *testing.T) {
	t.Parallel()
	model := &fakeModel{finals: []string{"again"}}
	rec := New(Config{Provider: staticProvider{model}, Source: clip(t, boundaryMarker)})
	ev := newEvents()
	rec.Subscribe(ev)

	stop := loop(t, rec)
	for range 2 {
		require.NoError(t, rec.Start())
		ev.wait(t)
	}
	stop()

	assert.Equal(t, []string{"final:again", "finished", "final:again", "finished"}, ev.snapshot())
}

func TestRecognizerHandlerMayStop(t *testing.T) {
	t.Parallel()
	model := &fakeModel{finals: []string{"stop"}}
	src, err := speechsource.NewClipSource(append([]int16{boundaryMarker}, make([]int16, 16000)...), 1000,
		speechsource.ClipConfig{ChunkSize: 10, Realtime: true})
	require.NoError(t, err)
	rec := New(Config{Provider: staticProvider{model}, Source: src})

	stopped := make(chan struct{})
	rec.Subscribe(HandlerFuncs{Final: func(recognizer.FinalResult) {
		rec.Stop()
		close(stopped)
	}})

	stop := loop(t, rec)
	require.NoError(t, rec.Start())
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("final result never arrived")
	}
	stop()
	src.Wait()
	assert.False(t, rec.IsRecognizing())
}

func TestRecognizerPassesSessionOptions(t *testing.T) {
	t.Parallel()
	model := &fakeModel{}
	rec := New(Config{
		Provider:        staticProvider{model},
		Source:          clip(t, 0),
		Words:           true,
		MaxAlternatives: 2,
	})
	rec.SetVocabulary([]string{"Yes", "no"})

	stop := loop(t, rec)
	require.NoError(t, rec.Start())
	stop()

	require.Len(t, model.engineConfigs(), 1)
	assert.Equal(t, recognizer.EngineConfig{
		SampleRate:      16000,
		Vocabulary:      `["yes","no"]`,
		Words:           true,
		MaxAlternatives: 2,
	}, model.engineConfigs()[0])
}

func TestRecognizerEmptyPartialsOptIn(t *testing.T) {
	t.Parallel()
	rec := New(Config{Provider: staticProvider{&fakeModel{}}, Source: clip(t, 0, 1)})
	rec.SetAllowEmptyPartials(true)
	ev := newEvents()
	rec.Subscribe(ev)

	stop := loop(t, rec)
	require.NoError(t, rec.Start())
	ev.wait(t)
	stop()

	assert.Equal(t, []string{"partial:", "partial:speaking", "finished"}, ev.snapshot())
}

func TestRecognizerValidatesInputs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"no provider", Config{Source: clip(t, 0)}, errors.ErrInvalidArgument},
		{"no model", Config{Provider: staticProvider{}, Source: clip(t, 0)}, errors.ErrState},
		{"no source", Config{Provider: staticProvider{&fakeModel{}}}, errors.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := New(tt.cfg)
			assert.ErrorIs(t, rec.Start(), tt.want)
			assert.False(t, rec.IsRecognizing())
		})
	}
}
