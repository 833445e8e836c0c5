package services

import (
	"sync"
	"testing"
	"time"

	"chat-vectorsync/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestProgressRegistry_Lifecycle(t *testing.T) {
	registry := NewProgressRegistry()

	_, ok := registry.Get("missing")
	assert.False(t, ok)

	start := time.Now()
	registry.Put(models.BatchProcessingProgress{BatchID: "b", TotalItems: 10, StartTime: start.Add(time.Second)})
	registry.Put(models.BatchProcessingProgress{BatchID: "a", TotalItems: 4, StartTime: start})

	list := registry.List()
	assert.Len(t, list, 2)
	assert.Equal(t, "a", list[0].BatchID)

	registry.Put(models.BatchProcessingProgress{BatchID: "a", TotalItems: 4, ProcessedItems: 2, StartTime: start})
	p, ok := registry.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, p.ProcessedItems)
	assert.InDelta(t, 50.0, p.PercentComplete(), 0.001)

	registry.Remove("a")
	registry.Remove("a")
	assert.Equal(t, 1, registry.Len())
}

func TestProgressRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewProgressRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			registry.Put(models.BatchProcessingProgress{BatchID: id, TotalItems: i})
			registry.List()
			registry.Get(id)
			registry.Remove(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, registry.Len())
}

func TestPercentComplete_EmptyRun(t *testing.T) {
	assert.Equal(t, 0.0, models.BatchProcessingProgress{}.PercentComplete())
}
