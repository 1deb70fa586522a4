// Package transcripts persists one transcript per job as a text log plus a JSON document.
package transcripts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/models"
	"go.uber.org/zap"
)

type Store struct {
	textDir string
	jsonDir string
	now     func() time.Time
}

func NewStore(textDir, jsonDir string) *Store {
	return &Store{textDir: textDir, jsonDir: jsonDir, now: time.Now}
}

// TextPath and JSONPath are derived from the job id alone so re-reads never re-derive names.
func (s *Store) TextPath(jobID string) string {
	return filepath.Join(s.textDir, "call_"+jobID+".txt")
}

func (s *Store) JSONPath(jobID string) string {
	return filepath.Join(s.jsonDir, "call_"+jobID+".json")
}

// DisplayRole maps a pipeline role to the label shown in logs and the UI.
func DisplayRole(role string) string {
	switch role {
	case models.RoleAssistant:
		return "Agent"
	case models.RoleUser:
		return "User"
	case models.RoleSystem:
		return "System"
	}
	if role == "" {
		return role
	}
	r, size := utf8.DecodeRuneInString(role)
	return string(unicode.ToUpper(r)) + role[size:]
}

// Entries drops blank turns and converts the rest into persisted entries.
func Entries(messages []models.ChatMessage, fallback time.Time) []models.TranscriptEntry {
	entries := make([]models.TranscriptEntry, 0, len(messages))
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		ts := m.CreatedAt
		if ts.IsZero() {
			ts = fallback
		}
		entries = append(entries, models.TranscriptEntry{
			Role:        m.Role,
			DisplayRole: DisplayRole(m.Role),
			Content:     content,
			Timestamp:   ts.UTC().Format(time.RFC3339),
		})
	}
	return entries
}

// Save writes both artifacts for the job. Partial writes are possible if the second
// write fails; the error is returned for the caller to log.
func (s *Store) Save(job models.CallJob, messages []models.ChatMessage) error {
	now := s.now()
	t := models.Transcript{
		JobID:       job.JobID,
		PhoneNumber: job.PhoneNumber,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Messages:    Entries(messages, now),
	}

	if err := os.MkdirAll(s.textDir, 0o755); err != nil {
		return apperr.Persistence("create transcript dir", err)
	}
	if err := os.MkdirAll(s.jsonDir, 0o755); err != nil {
		return apperr.Persistence("create transcript json dir", err)
	}

	if err := os.WriteFile(s.TextPath(job.JobID), []byte(renderText(t)), 0o644); err != nil {
		return apperr.Persistence("write transcript text", err)
	}

	data, err := json.MarshalIndent(t, "", "    ")
	if err != nil {
		return apperr.Persistence("encode transcript", err)
	}
	if err := os.WriteFile(s.JSONPath(job.JobID), data, 0o644); err != nil {
		return apperr.Persistence("write transcript json", err)
	}

	logger.Base().Info("transcript saved",
		zap.String("job_id", job.JobID),
		zap.Int("messages", len(t.Messages)),
		zap.String("path", s.JSONPath(job.JobID)))
	return nil
}

func renderText(t models.Transcript) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job: %s\n", t.JobID)
	phone := t.PhoneNumber
	if phone == "" {
		phone = "inbound"
	}
	fmt.Fprintf(&b, "Phone: %s\n", phone)
	fmt.Fprintf(&b, "Saved: %s\n\n", t.Timestamp)
	for _, e := range t.Messages {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.Timestamp, e.DisplayRole, e.Content)
	}
	return b.String()
}

// List returns every readable transcript, newest first. Unreadable or corrupt files are skipped.
func (s *Store) List() ([]models.Transcript, error) {
	dirEntries, err := os.ReadDir(s.jsonDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.Transcript{}, nil
		}
		return nil, apperr.Persistence("read transcript dir", err)
	}

	out := make([]models.Transcript, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.jsonDir, de.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Base().Warn("skip unreadable transcript", zap.String("path", path), zap.Error(err))
			continue
		}
		var t models.Transcript
		if err := json.Unmarshal(data, &t); err != nil {
			logger.Base().Warn("skip corrupt transcript", zap.String("path", path), zap.Error(err))
			continue
		}
		out = append(out, t)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return newer(out[i].Timestamp, out[j].Timestamp)
	})
	return out, nil
}

// Count returns the number of stored transcripts.
func (s *Store) Count() int {
	list, err := s.List()
	if err != nil {
		return 0
	}
	return len(list)
}

// newer compares RFC 3339 timestamps, falling back to string order for anything unparsable.
func newer(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	if errA == nil && errB == nil {
		return ta.After(tb)
	}
	return a > b
}
