package netsim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Shaper_enforcesMinimumDelay(t *testing.T) {
	s := NewShaper(Profile{OneWayDelay: 50 * time.Millisecond}, 1)
	defer s.Close()

	start := time.Now()
	done := make(chan struct{})
	s.Dispatch(context.Background(), []byte("hello"), func(b []byte) {
		close(done)
	})
	<-done
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func Test_Shaper_preservesFIFOOrder(t *testing.T) {
	s := NewShaper(Profile{OneWayDelay: 5 * time.Millisecond}, 2)
	defer s.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		idx := i
		s.Dispatch(context.Background(), []byte{byte(idx)}, func(b []byte) {
			mu.Lock()
			order = append(order, int(b[0]))
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func Test_Shaper_bandwidthCapAddsDelay(t *testing.T) {
	// 1000 bytes/sec cap, 1000-byte payload must add ~1s beyond the base delay.
	s := NewShaper(Profile{OneWayDelay: 0, BandwidthBPS: 1000}, 3)
	defer s.Close()

	payload := make([]byte, 1000)
	start := time.Now()
	done := make(chan struct{})
	s.Dispatch(context.Background(), payload, func(b []byte) { close(done) })
	<-done
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func Test_Shaper_dropsWithProbabilityOne(t *testing.T) {
	s := NewShaper(Profile{LossProbability: 1}, 4)
	defer s.Close()

	delivered := false
	s.Dispatch(context.Background(), []byte("x"), func(b []byte) { delivered = true })
	time.Sleep(20 * time.Millisecond)
	require.False(t, delivered)
}
