package calllog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestAppendAndSnapshot tests basic recording and ordered export
func TestAppendAndSnapshot(t *testing.T) {
	log := New(10)

	log.Info("signaling", "subscribed to %s", "call-offer-notify:conv-1")
	log.Warn("signaling", "retry %d", 2)
	log.Error("session", "negotiation failed")

	entries := log.Snapshot()
	assert.Len(t, entries, 3)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, LevelWarn, entries[1].Level)
	assert.Equal(t, LevelError, entries[2].Level)
	assert.Equal(t, "subscribed to call-offer-notify:conv-1", entries[0].Message)
	assert.Equal(t, "session", entries[2].Source)
}

// TestEviction tests that the oldest entries are evicted at capacity
func TestEviction(t *testing.T) {
	log := New(3)

	for i := 0; i < 5; i++ {
		log.Info("test", "entry-%d", i)
	}

	entries := log.Snapshot()
	assert.Len(t, entries, 3)
	assert.Equal(t, "entry-2", entries[0].Message)
	assert.Equal(t, "entry-4", entries[2].Message)
}

// TestDefaultCapacity tests the fallback capacity for invalid values
func TestDefaultCapacity(t *testing.T) {
	log := New(0)
	for i := 0; i < 501; i++ {
		log.Debug("test", "x")
	}
	assert.Equal(t, 500, log.Len())
}

// TestConcurrentAppend tests that concurrent writers never lose the ring shape
func TestConcurrentAppend(t *testing.T) {
	log := New(64)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				log.Info("worker", "w%d-%d", n, j)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 64, log.Len())
	assert.Len(t, log.Snapshot(), 64)
}

// TestBadFormatNeverPanics tests that malformed format arguments are absorbed
func TestBadFormatNeverPanics(t *testing.T) {
	log := New(4)

	badArg := any("not-a-number")
	assert.NotPanics(t, func() {
		log.Info("test", "%d", badArg)
	})
	assert.Equal(t, 1, log.Len())
}
