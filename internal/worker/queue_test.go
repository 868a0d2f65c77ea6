package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()
	q := NewQueue[int]()

	for i := range 200 {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 200, q.Len())

	for i := range 200 {
		got, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, got)
	}

	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestQueueCompleteDrainsThenStops(t *testing.T) {
	t.Parallel()
	q := NewQueue[string]()

	q.Push("a")
	q.Push("b")
	q.Complete()
	q.Complete()

	assert.False(t, q.Push("c"))
	assert.True(t, q.IsCompleted())

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", got)
	got, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", got)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueuePopWaitsForPush(t *testing.T) {
	t.Parallel()
	q := NewQueue[int]()

	result := make(chan int, 1)
	go func() {
		v, _ := q.Pop()
		result <- v
	}()

	select {
	case <-result:
		t.Fatal("Pop returned before any push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(7)
	select {
	case v := <-result:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after push")
	}
}

func TestQueueCompleteWakesWaiter(t *testing.T) {
	t.Parallel()
	q := NewQueue[int]()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	q.Complete()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after Complete")
	}
}
