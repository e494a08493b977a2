package lane

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_SameSessionRunsSerially(t *testing.T) {
	s := NewScheduler(4)
	defer s.Close()

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Run(context.Background(), "agent:demo:main", func(ctx context.Context) (interface{}, error) {
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			}, nil)
		}()
	}

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, order, 5)
}

func TestScheduler_DifferentSessionsRunConcurrentlyUnderGlobalCap(t *testing.T) {
	s := NewScheduler(4)
	defer s.Close()

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := "agent:concurrent:main-" + string(rune('a'+i))
			_, _ = s.Run(context.Background(), key, func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(30 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil, nil
			}, nil)
		}()
	}

	wg.Wait()
	assert.Greater(t, maxActive, 1)
	assert.LessOrEqual(t, maxActive, 4)
}

func TestScheduler_GlobalCapBoundsAcrossSessions(t *testing.T) {
	s := NewScheduler(2)
	defer s.Close()

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := "agent:global-cap:main-" + string(rune('a'+i))
			_, _ = s.Run(context.Background(), key, func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(15 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil, nil
			}, nil)
		}()
	}

	wg.Wait()
	assert.LessOrEqual(t, maxActive, 2)
}

func TestScheduler_AbortSessionRejectsQueuedOnly(t *testing.T) {
	s := NewScheduler(1)
	defer s.Close()

	block := make(chan struct{})
	go s.Run(context.Background(), "agent:abort:main", func(ctx context.Context) (interface{}, error) {
		<-block
		return "first", nil
	}, nil)
	time.Sleep(20 * time.Millisecond)

	resultCh := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), "agent:abort:main", func(ctx context.Context) (interface{}, error) {
			return "second", nil
		}, nil)
		resultCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cleared := s.AbortSession("agent:abort:main")
	assert.Equal(t, 1, cleared)
	close(block)

	err := <-resultCh
	assert.Error(t, err)
}

func TestScheduler_SessionStatsUnknownSession(t *testing.T) {
	s := NewScheduler(1)
	defer s.Close()

	_, err := s.SessionStats("agent:never-run:main")
	assert.Error(t, err)
}

func TestScheduler_PruneSessionOnlyWhenIdle(t *testing.T) {
	s := NewScheduler(1)
	defer s.Close()

	_, err := s.Run(context.Background(), "agent:prune:main", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)
	require.NoError(t, err)

	assert.True(t, s.PruneSession("agent:prune:main"))
}
