package stream

import (
	"sync"
	"time"

	"github.com/ctmphuongg/weapon-detection-app/internal/detect"
)

// HistoryEntry is one retained detection episode.
type HistoryEntry struct {
	Time       time.Time  `json:"time"`
	Count      int        `json:"count"`
	Detections detect.Set `json:"detections"`
}

// History is a rolling, time-evicted log of detection episodes. Entries are
// appended in timestamp order and dropped once older than the retention
// window.
type History struct {
	mu         sync.Mutex
	entries    []HistoryEntry
	retention  time.Duration
	episodeGap time.Duration
}

// NewHistory creates a history with the given retention window and the idle
// gap after which detections count as a new episode.
func NewHistory(retention, episodeGap time.Duration) *History {
	return &History{
		retention:  retention,
		episodeGap: episodeGap,
	}
}

// RecordEpisode appends an entry when the set begins a new episode: the log
// is empty or the last entry is older than the episode gap. Returns true
// when an entry was appended.
func (h *History) RecordEpisode(now time.Time, set detect.Set) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) > 0 && now.Sub(h.entries[len(h.entries)-1].Time) <= h.episodeGap {
		return false
	}
	h.entries = append(h.entries, HistoryEntry{
		Time:       now,
		Count:      len(set.Detections),
		Detections: set,
	})
	return true
}

// Evict drops entries older than the retention window.
func (h *History) Evict(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := 0
	for cutoff < len(h.entries) && now.Sub(h.entries[cutoff].Time) > h.retention {
		cutoff++
	}
	if cutoff > 0 {
		h.entries = append([]HistoryEntry(nil), h.entries[cutoff:]...)
	}
}

// Entries returns a copy of the retained episodes, oldest first.
func (h *History) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of retained episodes.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
