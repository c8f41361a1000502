package recorder

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArtifactStore struct {
	mu      sync.Mutex
	callID  uuid.UUID
	wav     []byte
	uploads int
	err     error
}

func (s *fakeArtifactStore) Upload(_ context.Context, callID uuid.UUID, wav []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.callID = callID
	s.wav = wav
	s.uploads++
	return "recordings/" + callID.String(), nil
}

func (s *fakeArtifactStore) uploaded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

func feed(samples ...[]int16) chan []int16 {
	ch := make(chan []int16, len(samples))
	for _, s := range samples {
		ch <- s
	}
	close(ch)
	return ch
}

func waitIdle(t *testing.T, r *Recorder) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !r.Recording() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMixSumsAndClamps(t *testing.T) {
	mixed := mix([]int16{100, 30000, -30000}, []int16{200, 10000, -10000})
	assert.Equal(t, []int16{300, 32767, -32768}, mixed)
}

func TestMixPadsShorterLeg(t *testing.T) {
	mixed := mix([]int16{1, 2, 3}, []int16{10})
	assert.Equal(t, []int16{11, 2, 3}, mixed)

	// A missing leg records the other one unchanged.
	solo := mix(nil, []int16{5, 6})
	assert.Equal(t, []int16{5, 6}, solo)
}

func TestStopFinalizesWAVArtifact(t *testing.T) {
	store := &fakeArtifactStore{}
	r := New(store, nil)
	callID := uuid.New()

	local := feed([]int16{1000, 2000}, []int16{3000})
	remote := feed([]int16{100, 200}, []int16{300})
	r.Start(callID, local, remote)

	// Both legs drain, then finalize.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && r.Duration() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop(context.Background())

	require.Equal(t, 1, store.uploaded())
	assert.Equal(t, callID, store.callID)

	wav := store.wav
	require.Greater(t, len(wav), 44)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "data", string(wav[36:40]))

	dataLen := binary.LittleEndian.Uint32(wav[40:44])
	assert.Equal(t, int(dataLen), len(wav)-44)
	// 3 mixed samples, 2 bytes each.
	assert.Equal(t, uint32(6), dataLen)
	assert.Equal(t, int16(1100), int16(binary.LittleEndian.Uint16(wav[44:46])))
}

func TestChunkingCountsDuration(t *testing.T) {
	r := New(nil, nil)
	r.sampleRate = 10
	r.chunkLen = 10

	r.Start(uuid.New(), feed(make([]int16, 25)), nil)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && r.Duration() < 2*time.Second {
		time.Sleep(5 * time.Millisecond)
	}

	// 25 samples at 10 Hz is 2.5 s.
	assert.Equal(t, 2500*time.Millisecond, r.Duration())
	r.mu.Lock()
	assert.Len(t, r.chunks, 2)
	assert.Len(t, r.pending, 5)
	r.mu.Unlock()
}

func TestStopWhenIdleIsNoOp(t *testing.T) {
	store := &fakeArtifactStore{}
	r := New(store, nil)

	r.Stop(context.Background())
	r.Clear()
	assert.Zero(t, store.uploaded())
}

func TestSecondStopDoesNotReupload(t *testing.T) {
	store := &fakeArtifactStore{}
	r := New(store, nil)
	r.sampleRate = 10
	r.chunkLen = 10

	r.Start(uuid.New(), feed([]int16{1, 2, 3}), nil)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && r.Duration() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	r.Stop(context.Background())
	r.Stop(context.Background())
	assert.Equal(t, 1, store.uploaded())
}

func TestClearDiscardsWithoutArtifact(t *testing.T) {
	store := &fakeArtifactStore{}
	r := New(store, nil)
	r.sampleRate = 10
	r.chunkLen = 10

	r.Start(uuid.New(), feed(make([]int16, 30)), nil)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && r.Duration() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	r.Clear()
	assert.Zero(t, store.uploaded())
	assert.Zero(t, r.Duration())

	// Stop after clear stays silent.
	r.Stop(context.Background())
	assert.Zero(t, store.uploaded())
}

func TestUploadFailureIsSwallowed(t *testing.T) {
	store := &fakeArtifactStore{err: assert.AnError}
	r := New(store, nil)
	r.sampleRate = 10
	r.chunkLen = 10

	r.Start(uuid.New(), feed([]int16{1, 2}), nil)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && r.Duration() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	// Must not panic or propagate.
	r.Stop(context.Background())
	waitIdle(t, r)
	assert.False(t, r.Recording())
}
