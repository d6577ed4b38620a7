package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircular_WriteRead(t *testing.T) {
	buf := NewCircular[int](4)
	defer buf.Close()

	for i := 1; i <= 3; i++ {
		require.NoError(t, buf.Write(i))
	}
	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, 4, buf.Capacity())

	for i := 1; i <= 3; i++ {
		v, ok := buf.Read()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok := buf.Read()
	assert.False(t, ok)
	assert.True(t, buf.IsEmpty())
}

func TestCircular_DropOldest(t *testing.T) {
	buf := NewCircular[int](2, WithOverflowPolicy[int](DropOldest))
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3)) // evicts 1

	assert.Equal(t, int64(1), buf.Stats().Drops())

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestCircular_DropNewest(t *testing.T) {
	buf := NewCircular[int](2, WithOverflowPolicy[int](DropNewest))
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3)) // dropped

	assert.Equal(t, int64(1), buf.Stats().Drops())

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestCircular_DropCallback(t *testing.T) {
	var dropped []int
	buf := NewCircular[int](1,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }))
	defer buf.Close()

	require.NoError(t, buf.Write(10))
	require.NoError(t, buf.Write(20))
	require.NoError(t, buf.Write(30))

	assert.Equal(t, []int{10, 20}, dropped)
}

func TestCircular_Block(t *testing.T) {
	buf := NewCircular[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, buf.Write(1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Blocks until the reader makes room
		_ = buf.Write(2)
	}()

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	wg.Wait()

	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	buf.Close()
}

func TestCircular_CloseUnblocksWriter(t *testing.T) {
	buf := NewCircular[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, buf.Write(1))

	done := make(chan error, 1)
	go func() {
		done <- buf.Write(2)
	}()

	require.NoError(t, buf.Close())
	err := <-done
	assert.Error(t, err)
}

func TestCircular_ReadBatch(t *testing.T) {
	buf := NewCircular[int](8)
	defer buf.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, buf.Write(i))
	}

	batch := buf.ReadBatch(3)
	assert.Equal(t, []int{0, 1, 2}, batch)

	batch = buf.ReadBatch(10)
	assert.Equal(t, []int{3, 4}, batch)

	assert.Nil(t, buf.ReadBatch(1))
	assert.Nil(t, buf.ReadBatch(0))
}

func TestCircular_Peek(t *testing.T) {
	buf := NewCircular[string](2)
	defer buf.Close()

	_, ok := buf.Peek()
	assert.False(t, ok)

	require.NoError(t, buf.Write("a"))
	v, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, buf.Size())
}

func TestCircular_Clear(t *testing.T) {
	var dropped int
	buf := NewCircular[int](4, WithDropCallback[int](func(int) { dropped++ }))
	defer buf.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}
	buf.Clear()

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 3, dropped)
}

func TestCircular_WriteAfterClose(t *testing.T) {
	buf := NewCircular[int](2)
	require.NoError(t, buf.Close())
	assert.Error(t, buf.Write(1))
	// Close is idempotent
	assert.NoError(t, buf.Close())
}

func TestStatistics_Counters(t *testing.T) {
	buf := NewCircular[int](2)
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	buf.Read()

	stats := buf.Stats()
	assert.Equal(t, int64(2), stats.Writes())
	assert.Equal(t, int64(1), stats.Reads())
	assert.Equal(t, int64(0), stats.Drops())
	assert.Equal(t, int64(1), stats.CurrentSize())
	assert.Equal(t, int64(2), stats.MaxSize())
	assert.Equal(t, 0.0, stats.DropRate())
}
