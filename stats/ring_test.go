package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingPushWrap(t *testing.T) {
	r := NewRing(3)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 3, r.Cap())

	r.Push(Sample{Value: 1, Ts: 1})
	r.Push(Sample{Value: 2, Ts: 2})
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []float64{1, 2}, r.Values())

	r.Push(Sample{Value: 3, Ts: 3})
	r.Push(Sample{Value: 4, Ts: 4})

	// capacity 3, oldest sample evicted
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []float64{2, 3, 4}, r.Values())

	latest, ok := r.Latest()
	assert.True(t, ok)
	assert.Equal(t, float64(4), latest.Value)
	assert.Equal(t, int64(4), latest.Ts)
}

func TestRingEmpty(t *testing.T) {
	r := NewRing(8)
	_, ok := r.Latest()
	assert.False(t, ok)
	assert.Empty(t, r.Values())
	assert.Empty(t, r.Snapshot())
}

func TestRingConcurrentPush(t *testing.T) {
	r := NewRing(100)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Push(Sample{Value: float64(base*50 + j), Ts: int64(j)})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, r.Len())
	assert.Len(t, r.Values(), 100)
}
