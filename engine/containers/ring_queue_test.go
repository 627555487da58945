package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueue(t *testing.T) {
	rq := NewRingQueue[int](3)
	assert.True(t, rq.IsEmpty())
	_, err := rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	_, err = rq.Peek()
	assert.ErrorIs(t, err, ErrQueueEmpty)

	for i := 1; i <= 3; i++ {
		require.NoError(t, rq.Enqueue(i))
	}
	assert.True(t, rq.IsFull())
	assert.ErrorIs(t, rq.Enqueue(4), ErrQueueFull)

	v, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, rq.Enqueue(4))

	var got []int
	rq.Each(func(v int) { got = append(got, v) })
	assert.Equal(t, []int{2, 3, 4}, got)
}

func TestRingQueuePushDropsOldest(t *testing.T) {
	rq := NewRingQueue[string](2)
	rq.Push("a")
	rq.Push("b")
	rq.Push("c")
	assert.Equal(t, 2, rq.Len())

	var got []string
	rq.Each(func(s string) { got = append(got, s) })
	assert.Equal(t, []string{"b", "c"}, got)
}
