package jobcache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/jobtrack/internal/models"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCache(t *testing.T) {
	t.Run("miss on empty", func(t *testing.T) {
		_, ok := New(0).Get("j1")
		assert.False(t, ok)
	})

	t.Run("fresh entry is returned until ttl", func(t *testing.T) {
		clk := &clock{now: time.Unix(0, 0)}
		c := New(30 * time.Second).WithClock(clk.Now)
		c.Put("j1", models.Job{JobID: "j1", Status: models.StatusQueued})

		clk.Advance(29 * time.Second)
		got, ok := c.Get("j1")
		require.True(t, ok)
		assert.Equal(t, models.StatusQueued, got.Status)

		clk.Advance(time.Second)
		_, ok = c.Get("j1")
		assert.False(t, ok, "entry at exactly ttl is stale")
		assert.Equal(t, 1, c.Len(), "expiry is lazy")
	})

	t.Run("put overwrites and refreshes captured time", func(t *testing.T) {
		clk := &clock{now: time.Unix(0, 0)}
		c := New(10 * time.Second).WithClock(clk.Now)
		c.Put("j1", models.Job{JobID: "j1", Stats: models.Stats{Processed: 1}})
		clk.Advance(9 * time.Second)
		c.Put("j1", models.Job{JobID: "j1", Stats: models.Stats{Processed: 2}})
		clk.Advance(9 * time.Second)

		got, ok := c.Get("j1")
		require.True(t, ok)
		assert.Equal(t, 2, got.Stats.Processed)
	})

	t.Run("keys are independent", func(t *testing.T) {
		c := New(0)
		c.Put("a", models.Job{JobID: "a"})
		c.Put("b", models.Job{JobID: "b"})

		a, _ := c.Get("a")
		b, _ := c.Get("b")
		assert.Equal(t, "a", a.JobID)
		assert.Equal(t, "b", b.JobID)
	})

	t.Run("returned snapshot is a copy", func(t *testing.T) {
		c := New(0)
		c.Put("j1", models.Job{JobID: "j1", ETASeconds: models.IntPtr(5)})

		got, _ := c.Get("j1")
		*got.ETASeconds = 99

		again, _ := c.Get("j1")
		assert.Equal(t, 5, *again.ETASeconds)
	})

	t.Run("sweep drops stale entries", func(t *testing.T) {
		clk := &clock{now: time.Unix(0, 0)}
		c := New(time.Second).WithClock(clk.Now)
		c.Put("old", models.Job{JobID: "old"})
		clk.Advance(2 * time.Second)
		c.Put("new", models.Job{JobID: "new"})

		assert.Equal(t, 1, c.Sweep())
		assert.Equal(t, 1, c.Len())
	})

	t.Run("concurrent writers on distinct keys", func(t *testing.T) {
		c := New(0)
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := string(rune('a' + i))
				for p := range 50 {
					c.Put(id, models.Job{JobID: id, Stats: models.Stats{Processed: p}})
					c.Get(id)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 20, c.Len())
	})
}
