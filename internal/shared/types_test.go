package shared

import (
	"encoding/json"
	"testing"
)

func TestParseToolKind(t *testing.T) {
	valid := []string{"claude-code", "cursor", "opencode", "antigravity"}
	for _, name := range valid {
		if _, err := ParseToolKind(name); err != nil {
			t.Errorf("ParseToolKind(%q) returned error: %v", name, err)
		}
	}

	if _, err := ParseToolKind("vim"); err == nil {
		t.Error("expected error for unknown tool kind")
	}
}

func TestParseInteractionKind(t *testing.T) {
	valid := []string{"prompt", "response", "tool_use", "accept", "reject", "edit", "undo"}
	for _, name := range valid {
		if _, err := ParseInteractionKind(name); err != nil {
			t.Errorf("ParseInteractionKind(%q) returned error: %v", name, err)
		}
	}

	if _, err := ParseInteractionKind("compaction"); err == nil {
		t.Error("expected error for unknown interaction kind")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		meta Metadata
	}{
		{
			name: "file edit",
			meta: Metadata{Kind: MetadataFileEdit, FileEdit: &FileEditMetadata{
				Path:         "internal/store/store.go",
				Language:     "go",
				LinesAdded:   12,
				LinesRemoved: 3,
			}},
		},
		{
			name: "permission",
			meta: Metadata{Kind: MetadataPermission, Permission: &PermissionMetadata{
				ToolName: "Bash",
				Decision: "allow",
			}},
		},
		{
			name: "tool result",
			meta: Metadata{Kind: MetadataToolResult, ToolResult: &ToolResultMetadata{
				ToolName:   "Edit",
				Success:    true,
				DurationMs: 420,
			}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.meta)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}

			var decoded Metadata
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}

			if decoded.Kind != tc.meta.Kind {
				t.Errorf("kind mismatch: got %q, want %q", decoded.Kind, tc.meta.Kind)
			}
		})
	}
}

func TestMetadataFileEditFields(t *testing.T) {
	raw := `{"type":"file_edit","path":"main.go","language":"go","lines_added":5,"lines_removed":2}`

	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if meta.Kind != MetadataFileEdit {
		t.Fatalf("expected file_edit kind, got %q", meta.Kind)
	}
	if meta.FileEdit.Language != "go" {
		t.Errorf("expected language go, got %q", meta.FileEdit.Language)
	}
	if meta.FileEdit.LinesAdded != 5 || meta.FileEdit.LinesRemoved != 2 {
		t.Errorf("unexpected line counts: +%d -%d", meta.FileEdit.LinesAdded, meta.FileEdit.LinesRemoved)
	}
}

func TestMetadataUnknownTypeIsOpaque(t *testing.T) {
	raw := `{"type":"telemetry_blob","payload":{"x":1}}`

	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if meta.Kind != MetadataOpaque {
		t.Fatalf("expected opaque kind, got %q", meta.Kind)
	}
	if string(meta.Raw) != raw {
		t.Errorf("raw payload not preserved: %s", meta.Raw)
	}
}

func TestMetadataNull(t *testing.T) {
	var meta Metadata
	if err := json.Unmarshal([]byte("null"), &meta); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !meta.IsZero() {
		t.Error("expected zero metadata for null payload")
	}

	data, err := json.Marshal(Metadata{})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("expected null, got %s", data)
	}
}
