// Package recorder captures a call's audio. Local and remote PCM legs are
// mixed into one mono stream, sliced into fixed chunks, and finalized into a
// single WAV artifact on stop. Recording failures never reach the call.
package recorder

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"

	"telecare-backend/internal/calllog"
	"telecare-backend/pkg/constants"
)

// ArtifactStore persists a finalized recording.
type ArtifactStore interface {
	Upload(ctx context.Context, callID uuid.UUID, wav []byte) (string, error)
}

// Recorder mixes and chunks one call's audio. Safe for concurrent use;
// Stop and Clear are no-ops when nothing is recording.
type Recorder struct {
	store ArtifactStore
	log   *calllog.Log

	sampleRate int
	chunkLen   int // samples per chunk

	mu       sync.Mutex
	running  bool
	callID   uuid.UUID
	chunks   [][]int16
	pending  []int16
	samples  int
	stopOnce *sync.Once
	done     chan struct{}
}

// New creates an idle recorder.
func New(store ArtifactStore, log *calllog.Log) *Recorder {
	if log == nil {
		log = calllog.Nop()
	}
	sampleRate := constants.RecorderSampleRate
	return &Recorder{
		store:      store,
		log:        log,
		sampleRate: sampleRate,
		chunkLen:   sampleRate * int(constants.RecorderChunkDuration/time.Second),
	}
}

// Start begins capture. Either leg may be nil; a call with one live leg is
// still recorded. Starting while running is a logged no-op.
func (r *Recorder) Start(callID uuid.UUID, local, remote <-chan []int16) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.log.Warn("recorder", "start while already recording %s", r.callID)
		return
	}
	r.running = true
	r.callID = callID
	r.chunks = nil
	r.pending = nil
	r.samples = 0
	r.stopOnce = &sync.Once{}
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go r.capture(local, remote, done)
	r.log.Info("recorder", "recording call %s", callID)
}

// capture pulls both legs until they close or the recorder stops.
func (r *Recorder) capture(local, remote <-chan []int16, done chan struct{}) {
	for {
		var localBuf, remoteBuf []int16
		localOpen, remoteOpen := local != nil, remote != nil

		if localOpen {
			select {
			case <-done:
				return
			case buf, ok := <-local:
				if !ok {
					local = nil
				} else {
					localBuf = buf
				}
			}
		}
		if remoteOpen {
			select {
			case <-done:
				return
			case buf, ok := <-remote:
				if !ok {
					remote = nil
				} else {
					remoteBuf = buf
				}
			}
		}

		if local == nil && remote == nil {
			return
		}
		if len(localBuf) == 0 && len(remoteBuf) == 0 {
			continue
		}

		r.append(mix(localBuf, remoteBuf))
	}
}

// mix sums the legs sample-wise with saturation clamping. The shorter leg is
// treated as silence past its end.
func mix(a, b []int16) []int16 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int32
		if i < len(a) {
			sum += int32(a[i])
		}
		if i < len(b) {
			sum += int32(b[i])
		}
		if sum > 32767 {
			sum = 32767
		} else if sum < -32768 {
			sum = -32768
		}
		out[i] = int16(sum)
	}
	return out
}

// append buffers mixed samples and cuts full chunks.
func (r *Recorder) append(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}

	r.pending = append(r.pending, samples...)
	r.samples += len(samples)

	for len(r.pending) >= r.chunkLen {
		chunk := make([]int16, r.chunkLen)
		copy(chunk, r.pending[:r.chunkLen])
		r.chunks = append(r.chunks, chunk)
		r.pending = r.pending[r.chunkLen:]
	}
}

// Duration reports captured audio time.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.samples) * time.Second / time.Duration(r.sampleRate)
}

// Recording reports whether a capture is in flight.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Stop finalizes the capture into one WAV artifact and uploads it. A second
// Stop, or Stop with nothing recorded, does nothing.
func (r *Recorder) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	once := r.stopOnce
	r.mu.Unlock()

	once.Do(func() {
		r.mu.Lock()
		if !r.running {
			r.mu.Unlock()
			return
		}
		r.running = false
		close(r.done)
		if len(r.pending) > 0 {
			r.chunks = append(r.chunks, r.pending)
			r.pending = nil
		}
		chunks := r.chunks
		r.chunks = nil
		callID := r.callID
		samples := r.samples
		r.mu.Unlock()

		if samples == 0 {
			r.log.Info("recorder", "nothing captured for %s", callID)
			return
		}

		wav := encodeWAV(chunks, r.sampleRate)
		if r.store == nil {
			r.log.Warn("recorder", "no artifact store, discarding %d bytes", len(wav))
			return
		}
		location, err := r.store.Upload(ctx, callID, wav)
		if err != nil {
			r.log.Error("recorder", "upload recording for %s: %v", callID, err)
			return
		}
		r.log.Info("recorder", "recording for %s stored at %s", callID, location)
	})
}

// Clear discards everything captured so far without producing an artifact.
// No-op when idle.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.running = false
		close(r.done)
	}
	r.chunks = nil
	r.pending = nil
	r.samples = 0
}

// encodeWAV frames mono 16-bit PCM chunks as a RIFF/WAVE file.
func encodeWAV(chunks [][]int16, sampleRate int) []byte {
	var samples int
	for _, c := range chunks {
		samples += len(c)
	}
	dataLen := samples * 2

	buf := make([]byte, 0, 44+dataLen)
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+dataLen))
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1) // PCM
	buf = binary.LittleEndian.AppendUint16(buf, 1) // mono
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate*2))
	buf = binary.LittleEndian.AppendUint16(buf, 2)
	buf = binary.LittleEndian.AppendUint16(buf, 16)

	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataLen))
	for _, c := range chunks {
		for _, s := range c {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(s))
		}
	}
	return buf
}
