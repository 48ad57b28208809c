package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue(t *testing.T) {
	t.Run("should run a job and return its result", func(t *testing.T) {
		cq := New()
		defer cq.Close()

		value, err := cq.Enqueue("main", func(ctx context.Context) (interface{}, error) {
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, value)
	})

	t.Run("should return the job error", func(t *testing.T) {
		cq := New()
		defer cq.Close()

		_, err := cq.Enqueue("main", func(ctx context.Context) (interface{}, error) {
			return nil, fmt.Errorf("broken")
		})
		assert.ErrorContains(t, err, "broken")
	})

	t.Run("should create unknown lanes on demand", func(t *testing.T) {
		cq := New()
		defer cq.Close()

		value, err := cq.Enqueue("task-abc", func(ctx context.Context) (interface{}, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", value)
	})
}

func TestLaneSerialization(t *testing.T) {
	t.Run("should run jobs on one lane strictly in order", func(t *testing.T) {
		cq := New()
		defer cq.Close()

		var mu sync.Mutex
		order := []int{}
		var wg sync.WaitGroup

		for i := 0; i < 5; i++ {
			wg.Add(1)
			n := i
			go func() {
				defer wg.Done()
				cq.Enqueue("serial", func(ctx context.Context) (interface{}, error) {
					mu.Lock()
					order = append(order, n)
					mu.Unlock()
					time.Sleep(5 * time.Millisecond)
					return nil, nil
				})
			}()
			// Give each enqueue a head start so ordering is deterministic.
			time.Sleep(2 * time.Millisecond)
		}
		wg.Wait()

		assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	})

	t.Run("should not overlap jobs within a single-concurrency lane", func(t *testing.T) {
		cq := New()
		defer cq.Close()

		var mu sync.Mutex
		running := 0
		maxRunning := 0
		var wg sync.WaitGroup

		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cq.Enqueue("serial", func(ctx context.Context) (interface{}, error) {
					mu.Lock()
					running++
					if running > maxRunning {
						maxRunning = running
					}
					mu.Unlock()

					time.Sleep(10 * time.Millisecond)

					mu.Lock()
					running--
					mu.Unlock()
					return nil, nil
				})
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, maxRunning)
	})

	t.Run("should run distinct lanes concurrently", func(t *testing.T) {
		cq := New()
		defer cq.Close()

		start := time.Now()
		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			lane := fmt.Sprintf("task-%d", i)
			go func() {
				defer wg.Done()
				cq.Enqueue(lane, func(ctx context.Context) (interface{}, error) {
					time.Sleep(50 * time.Millisecond)
					return nil, nil
				})
			}()
		}
		wg.Wait()

		// Three 50ms jobs in parallel should finish well before 150ms.
		assert.Less(t, time.Since(start), 140*time.Millisecond)
	})
}

func TestClose(t *testing.T) {
	t.Run("should cancel a running job's context", func(t *testing.T) {
		cq := New()

		started := make(chan struct{})
		done := make(chan error, 1)

		go func() {
			_, err := cq.Enqueue("main", func(ctx context.Context) (interface{}, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			})
			done <- err
		}()

		<-started
		cq.Close()

		select {
		case err := <-done:
			assert.Error(t, err)
		case <-time.After(time.Second):
			t.Fatal("job did not observe cancellation")
		}
	})
}
