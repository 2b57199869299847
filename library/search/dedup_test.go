package search

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeduplicator(t *testing.T) {
	d := NewDeduplicator(1)
	require.True(t, d.Accept("a"))
	require.False(t, d.Accept("a"))
	require.True(t, d.Accept("b"))
	require.Equal(t, 2, d.Len())
	require.True(t, d.Contains("b"))

	d.Remove("a")
	require.True(t, d.Accept("a"))

	d.Reset(2, "x")
	require.Equal(t, uint64(2), d.Generation())
	require.Equal(t, 1, d.Len())
	require.False(t, d.Accept("x"))
	require.True(t, d.Accept("a"))
}

func TestDeduplicatorConcurrentAccept(t *testing.T) {
	d := NewDeduplicator(1)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if d.Accept(fmt.Sprintf("id-%d", i)) {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 100, accepted)
	require.Equal(t, 100, d.Len())
}
