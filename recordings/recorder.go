package recordings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/AVVKavvk/livekit-caller/logger"
	"go.uber.org/zap"
)

// Recorder buffers the caller's audio for one job and writes it out once.
type Recorder struct {
	dir   string
	jobID string
	now   func() time.Time

	mu      sync.Mutex
	chunks  [][]int16
	rate    int
	flushed bool
}

func NewRecorder(dir, jobID string) *Recorder {
	return &Recorder{dir: dir, jobID: jobID, now: time.Now}
}

// Append stores a copy of samples. The most recent rate wins; nothing is resampled.
func (r *Recorder) Append(samples []int16, rate int) {
	if len(samples) == 0 {
		return
	}
	chunk := make([]int16, len(samples))
	copy(chunk, samples)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushed {
		return
	}
	r.chunks = append(r.chunks, chunk)
	if rate > 0 {
		r.rate = rate
	}
}

// Len returns the number of buffered chunks.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Flush concatenates the buffered chunks in arrival order and writes one WAV file.
// With nothing captured it logs a warning and returns an empty path.
func (r *Recorder) Flush() (string, error) {
	r.mu.Lock()
	chunks, rate := r.chunks, r.rate
	r.chunks = nil
	r.flushed = true
	r.mu.Unlock()

	if len(chunks) == 0 {
		logger.Base().Warn("no audio captured, skipping recording", zap.String("job_id", r.jobID))
		return "", nil
	}
	if rate <= 0 {
		return "", apperr.Persistence("flush recording", fmt.Errorf("unknown sample rate for job %s", r.jobID))
	}

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	pcm := make([]int16, 0, total)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", apperr.Persistence("create recordings dir", err)
	}
	path := filepath.Join(r.dir, FileName(r.jobID, r.now()))
	f, err := os.Create(path)
	if err != nil {
		return "", apperr.Persistence("create recording", err)
	}
	if err := WriteWAV(f, pcm, rate); err != nil {
		f.Close()
		return "", apperr.Persistence("write recording", err)
	}
	if err := f.Close(); err != nil {
		return "", apperr.Persistence("close recording", err)
	}

	logger.Base().Info("recording saved",
		zap.String("job_id", r.jobID),
		zap.String("path", path),
		zap.Int("samples", len(pcm)),
		zap.Int("sample_rate", rate))
	return path, nil
}
