package syncx

import (
	"encoding/json"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64   { return &v }
func intPtr(v int) *int       { return &v }

func TestNormalize(t *testing.T) {
	now := int64(1_700_000_000_000)

	t.Run("create defaults", func(t *testing.T) {
		n := &Note{ID: "n1", Content: "hello", Type: "JOURNAL"}
		Normalize(n, nil, "dev-1", now)

		if n.Type != TypeNote {
			t.Errorf("Type = %q, want %q", n.Type, TypeNote)
		}
		if n.CreatedAt != now || n.UpdatedAt != now {
			t.Errorf("timestamps = %d/%d, want both %d", n.CreatedAt, n.UpdatedAt, now)
		}
		if n.LastModifiedByDeviceID != "dev-1" {
			t.Errorf("LastModifiedByDeviceID = %q", n.LastModifiedByDeviceID)
		}
	})

	t.Run("update preserves createdAt and clears tombstone", func(t *testing.T) {
		prior := &Note{ID: "n1", CreatedAt: 1000, DeletedAt: i64Ptr(2000)}
		n := &Note{ID: "n1", Content: "edited", Type: TypeTask, CreatedAt: 9999, DeletedAt: i64Ptr(3000)}
		Normalize(n, prior, "dev-2", now)

		if n.CreatedAt != 1000 {
			t.Errorf("CreatedAt = %d, want preserved 1000", n.CreatedAt)
		}
		if n.UpdatedAt != now {
			t.Errorf("UpdatedAt = %d, want %d", n.UpdatedAt, now)
		}
		if n.DeletedAt != nil {
			t.Error("upsert must clear deletedAt")
		}
		if n.Type != TypeTask {
			t.Errorf("Type = %q, want TASK", n.Type)
		}
	})

	t.Run("tags clamped to max", func(t *testing.T) {
		tags := make([]string, MaxTags+5)
		for i := range tags {
			tags[i] = strings.Repeat("t", i+1)
		}
		n := &Note{ID: "n1", Tags: tags}
		Normalize(n, nil, "", now)
		if len(n.Tags) != MaxTags {
			t.Errorf("len(Tags) = %d, want %d", len(n.Tags), MaxTags)
		}
		if n.Tags[0] != "t" {
			t.Error("clamp must keep input order")
		}
	})

	t.Run("invalid priority dropped", func(t *testing.T) {
		n := &Note{ID: "n1", Priority: strPtr("asap")}
		Normalize(n, nil, "", now)
		if n.Priority != nil {
			t.Errorf("Priority = %q, want dropped", *n.Priority)
		}

		n = &Note{ID: "n1", Priority: strPtr(PriorityUrgent)}
		Normalize(n, nil, "", now)
		if n.Priority == nil || *n.Priority != PriorityUrgent {
			t.Error("valid priority must survive")
		}
	})
}

func TestNoteJSONOmitsUnsetOptionals(t *testing.T) {
	n := &Note{ID: "n1", Content: "c", Type: TypeNote, CreatedAt: 1, UpdatedAt: 2, Version: 1}
	b, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, absent := range []string{"title", "dueDate", "priority", "deletedAt", "analysisState", "contentHash", "tags"} {
		if strings.Contains(s, absent) {
			t.Errorf("serialized note should omit unset %q: %s", absent, s)
		}
	}
	for _, present := range []string{`"id"`, `"content"`, `"version"`, `"isPinned"`} {
		if !strings.Contains(s, present) {
			t.Errorf("serialized note missing %s: %s", present, s)
		}
	}
}

func TestClone(t *testing.T) {
	orig := &Note{
		ID:      "n1",
		Content: "c",
		Tags:    []string{"a", "b"},
		Title:   strPtr("t"),
		DueDate: i64Ptr(123),
	}
	cp := orig.Clone()

	cp.Tags[0] = "mutated"
	*cp.Title = "mutated"
	*cp.DueDate = 999

	if orig.Tags[0] != "a" || *orig.Title != "t" || *orig.DueDate != 123 {
		t.Error("Clone must not share backing storage with the original")
	}
	if (*Note)(nil).Clone() != nil {
		t.Error("Clone of nil is nil")
	}
}
