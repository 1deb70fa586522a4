// Package recordings buffers call audio and manages the WAV files written per job.
package recordings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/AVVKavvk/livekit-caller/models"
)

const (
	filePrefix = "user_"
	fileExt    = ".wav"
)

// FileName is the deterministic artifact name for a job flushed at t.
func FileName(jobID string, t time.Time) string {
	return fmt.Sprintf("%s%s_%d%s", filePrefix, jobID, t.Unix(), fileExt)
}

// ParseFileName recovers the job id and unix time from a recording name.
// Job ids may contain underscores, so the timestamp is taken from the last segment.
func ParseFileName(name string) (jobID string, unix int64, ok bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
		return "", 0, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt)
	i := strings.LastIndexByte(body, '_')
	if i <= 0 {
		return "", 0, false
	}
	ts, err := strconv.ParseInt(body[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return body[:i], ts, true
}

// ValidFileName rejects anything that could escape the recordings directory.
func ValidFileName(name string) bool {
	return name != "" && !strings.Contains(name, "..") && !strings.ContainsAny(name, `/\`)
}

type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string {
	return s.dir
}

// NewRecorder starts a buffer for one job writing into this store.
func (s *Store) NewRecorder(jobID string) *Recorder {
	return NewRecorder(s.dir, jobID)
}

// List returns metadata for every WAV file, newest first.
func (s *Store) List() ([]models.RecordingInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.RecordingInfo{}, nil
		}
		return nil, apperr.Persistence("read recordings dir", err)
	}

	type item struct {
		info models.RecordingInfo
		unix int64
	}
	items := make([]item, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		rec := models.RecordingInfo{
			Filename:  e.Name(),
			Filepath:  filepath.Join(s.dir, e.Name()),
			JobID:     "unknown",
			Timestamp: "Unknown",
			SizeBytes: fi.Size(),
		}
		jobID, unix, ok := ParseFileName(e.Name())
		if ok {
			rec.JobID = jobID
			if unix > 0 {
				rec.Timestamp = time.Unix(unix, 0).UTC().Format(time.RFC3339)
			}
		}
		items = append(items, item{info: rec, unix: unix})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].unix > items[j].unix })
	out := make([]models.RecordingInfo, len(items))
	for i, it := range items {
		out[i] = it.info
	}
	return out, nil
}

// Path resolves a download name to a file on disk. The name is validated before any
// filesystem access.
func (s *Store) Path(name string) (string, error) {
	if !ValidFileName(name) {
		return "", apperr.Validation("Invalid filename")
	}
	path := filepath.Join(s.dir, name)
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return "", os.ErrNotExist
	}
	return path, nil
}
