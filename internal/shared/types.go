package shared

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors shared across packages.
var (
	ErrStoreClosed     = errors.New("event store is not open")
	ErrSessionNotFound = errors.New("session not found")
	ErrNoHandle        = errors.New("no active session handle")
)

// ToolKind identifies which AI coding assistant a session belongs to.
type ToolKind string

const (
	ToolClaudeCode  ToolKind = "claude-code"
	ToolCursor      ToolKind = "cursor"
	ToolOpenCode    ToolKind = "opencode"
	ToolAntigravity ToolKind = "antigravity"
)

// ParseToolKind validates a tool name coming from a hook shim.
func ParseToolKind(s string) (ToolKind, error) {
	switch ToolKind(s) {
	case ToolClaudeCode, ToolCursor, ToolOpenCode, ToolAntigravity:
		return ToolKind(s), nil
	default:
		return "", fmt.Errorf("unknown tool kind %q", s)
	}
}

// InteractionKind is the type of a single recorded event within a session.
type InteractionKind string

const (
	InteractionPrompt   InteractionKind = "prompt"
	InteractionResponse InteractionKind = "response"
	InteractionToolUse  InteractionKind = "tool_use"
	InteractionAccept   InteractionKind = "accept"
	InteractionReject   InteractionKind = "reject"
	InteractionEdit     InteractionKind = "edit"
	InteractionUndo     InteractionKind = "undo"
)

// ParseInteractionKind validates an interaction kind string.
func ParseInteractionKind(s string) (InteractionKind, error) {
	switch InteractionKind(s) {
	case InteractionPrompt, InteractionResponse, InteractionToolUse,
		InteractionAccept, InteractionReject, InteractionEdit, InteractionUndo:
		return InteractionKind(s), nil
	default:
		return "", fmt.Errorf("unknown interaction kind %q", s)
	}
}

// MetadataKind discriminates the interaction metadata union.
type MetadataKind string

const (
	MetadataNone       MetadataKind = ""
	MetadataFileEdit   MetadataKind = "file_edit"
	MetadataPermission MetadataKind = "permission"
	MetadataToolResult MetadataKind = "tool_result"
	MetadataOpaque     MetadataKind = "opaque"
)

// FileEditMetadata describes a file modification made through the assistant.
type FileEditMetadata struct {
	Path         string `json:"path"`
	Language     string `json:"language,omitempty"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

// PermissionMetadata describes a permission prompt decision.
type PermissionMetadata struct {
	ToolName string `json:"tool_name"`
	Decision string `json:"decision"`
}

// ToolResultMetadata describes the outcome of a tool invocation.
type ToolResultMetadata struct {
	ToolName   string `json:"tool_name"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Metadata is the tagged union of known interaction payload shapes. Payloads
// whose type is not recognized are kept verbatim as MetadataOpaque so nothing
// a shim sends is silently discarded.
type Metadata struct {
	Kind       MetadataKind
	FileEdit   *FileEditMetadata
	Permission *PermissionMetadata
	ToolResult *ToolResultMetadata
	Raw        json.RawMessage
}

// IsZero reports whether no metadata was attached.
func (m Metadata) IsZero() bool {
	return m.Kind == MetadataNone
}

type metadataEnvelope struct {
	Type MetadataKind `json:"type"`
}

// MarshalJSON emits {"type": ..., ...shape fields} for known shapes and the
// raw payload for opaque ones.
func (m Metadata) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case MetadataNone:
		return []byte("null"), nil
	case MetadataFileEdit:
		return marshalTagged(string(m.Kind), m.FileEdit)
	case MetadataPermission:
		return marshalTagged(string(m.Kind), m.Permission)
	case MetadataToolResult:
		return marshalTagged(string(m.Kind), m.ToolResult)
	case MetadataOpaque:
		if len(m.Raw) == 0 {
			return []byte("null"), nil
		}
		return m.Raw, nil
	default:
		return nil, fmt.Errorf("marshal metadata: unknown kind %q", m.Kind)
	}
}

func marshalTagged(kind string, shape interface{}) ([]byte, error) {
	data, err := json.Marshal(shape)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields["type"] = kind
	return json.Marshal(fields)
}

// UnmarshalJSON dispatches on the "type" field; anything unrecognized becomes
// an opaque payload rather than an error.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*m = Metadata{}
		return nil
	}

	var env metadataEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		*m = Metadata{Kind: MetadataOpaque, Raw: append(json.RawMessage(nil), data...)}
		return nil
	}

	switch env.Type {
	case MetadataFileEdit:
		var shape FileEditMetadata
		if err := json.Unmarshal(data, &shape); err != nil {
			return fmt.Errorf("decode file_edit metadata: %w", err)
		}
		*m = Metadata{Kind: MetadataFileEdit, FileEdit: &shape}
	case MetadataPermission:
		var shape PermissionMetadata
		if err := json.Unmarshal(data, &shape); err != nil {
			return fmt.Errorf("decode permission metadata: %w", err)
		}
		*m = Metadata{Kind: MetadataPermission, Permission: &shape}
	case MetadataToolResult:
		var shape ToolResultMetadata
		if err := json.Unmarshal(data, &shape); err != nil {
			return fmt.Errorf("decode tool_result metadata: %w", err)
		}
		*m = Metadata{Kind: MetadataToolResult, ToolResult: &shape}
	default:
		*m = Metadata{Kind: MetadataOpaque, Raw: append(json.RawMessage(nil), data...)}
	}

	return nil
}
