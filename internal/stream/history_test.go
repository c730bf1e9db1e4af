package stream

import (
	"testing"
	"time"

	"github.com/ctmphuongg/weapon-detection-app/internal/detect"
)

func historySet(class string, conf float64, ts time.Time) detect.Set {
	return detect.NewSet([]detect.Detection{{ClassName: class, Confidence: conf}}, ts)
}

func TestHistoryEpisodeGap(t *testing.T) {
	h := NewHistory(time.Hour, 2*time.Second)
	base := time.Unix(1_700_000_000, 0)

	if !h.RecordEpisode(base, historySet("gun", 0.8, base)) {
		t.Fatalf("first detection did not open an episode")
	}
	// Detections within the gap belong to the same episode.
	if h.RecordEpisode(base.Add(time.Second), historySet("gun", 0.8, base)) {
		t.Fatalf("detection inside the gap opened a new episode")
	}
	// After the gap a new episode starts.
	if !h.RecordEpisode(base.Add(5*time.Second), historySet("gun", 0.8, base)) {
		t.Fatalf("detection after the gap did not open a new episode")
	}
	if h.Len() != 2 {
		t.Fatalf("history len = %d, want 2", h.Len())
	}
}

func TestHistoryEvictionAndOrder(t *testing.T) {
	h := NewHistory(time.Hour, time.Second)
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * 30 * time.Minute)
		h.RecordEpisode(ts, historySet("gun", 0.8, ts))
	}

	now := base.Add(90 * time.Minute)
	h.Evict(now)

	entries := h.Entries()
	if len(entries) != 3 {
		t.Fatalf("entries after eviction = %d, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Time.Before(entries[i-1].Time) {
			t.Fatalf("entries not sorted by timestamp ascending")
		}
	}
	for _, e := range entries {
		if now.Sub(e.Time) > time.Hour {
			t.Fatalf("entry older than retention window survived eviction")
		}
	}
}
