package speechsource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c43892/storyteller/internal/bufferpool"
)

// These tests drive the capture path without opening a device.

func TestMicrophoneDefaults(t *testing.T) {
	t.Parallel()
	m := NewMicrophoneSource(MicrophoneConfig{})
	assert.Equal(t, DefaultMicrophoneSampleRate, m.SampleRate())
	assert.Equal(t, DefaultTimeSensitivity, m.cfg.TimeSensitivity)
	assert.Equal(t, 2*DefaultMicrophoneSampleRate*int(DefaultCaptureBuffer/time.Second), m.rb.Capacity())
	assert.False(t, m.IsCapturing())
}

func TestMicrophoneDrainDeliversChunks(t *testing.T) {
	t.Parallel()
	pool := bufferpool.MustNew[int16](bufferpool.Config{MinSize: 1024, MaxSize: 4096, PerBucket: 2})
	m := NewMicrophoneSource(MicrophoneConfig{Pool: pool})
	c := newCollector()
	m.Subscribe(c)

	require.NoError(t, m.StartProduce())
	require.NoError(t, m.StartProduce(), "starting twice is a no-op")

	want := ramp(5000)
	m.write(s16le(want))
	m.drain()

	samples, chunks, _ := c.snapshot()
	assert.Equal(t, want, samples)
	assert.Equal(t, []int{DefaultChunkSize, 5000 - DefaultChunkSize}, chunks)
	assert.Zero(t, m.rb.Length())
}

func TestMicrophoneDiscardsWhileNotProducing(t *testing.T) {
	t.Parallel()
	m := NewMicrophoneSource(MicrophoneConfig{})
	c := newCollector()
	m.Subscribe(c)

	m.write(s16le(ramp(100)))
	m.drain()

	require.NoError(t, m.StartProduce())
	m.drain()
	m.write(s16le([]int16{5, 6}))
	m.drain()

	m.StopProduce()
	m.write(s16le([]int16{7}))
	m.drain()

	samples, _, _ := c.snapshot()
	assert.Equal(t, []int16{5, 6}, samples)
}

func TestMicrophoneCountsDroppedAudio(t *testing.T) {
	t.Parallel()
	// 10 samples of capacity.
	m := NewMicrophoneSource(MicrophoneConfig{SampleRate: 1000, BufferDuration: 10 * time.Millisecond})
	require.Equal(t, 20, m.rb.Capacity())

	m.write(make([]byte, 30))
	assert.EqualValues(t, 10, m.Dropped())
	m.write(make([]byte, 4))
	assert.EqualValues(t, 14, m.Dropped())
}

func TestStopMicrophoneWithoutDevice(t *testing.T) {
	t.Parallel()
	m := NewMicrophoneSource(MicrophoneConfig{})
	c := newCollector()
	m.Subscribe(c)
	require.NoError(t, m.StartProduce())

	m.StopMicrophone()

	_, _, dried := c.snapshot()
	assert.Zero(t, dried, "an unopened microphone has nothing to dry")
}
