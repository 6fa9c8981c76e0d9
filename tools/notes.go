package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/loopworks/valet/config"
	"github.com/loopworks/valet/errors"
)

// resolveNote validates a note name and returns its path on disk together
// with the cleaned store-relative name. Names are relative to the configured
// notes directory; anything that climbs out of it is rejected, and hidden
// notes do not resolve at all.
func resolveNote(notes *config.NotesAccess, name string) (string, string, error) {
	if name == "" {
		return "", "", errors.New("note name must not be empty")
	}
	if filepath.IsAbs(name) {
		return "", "", errors.New("note name '%s' must be relative to the note store", name)
	}
	rel := filepath.Clean(filepath.FromSlash(name))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", errors.New("note name '%s' escapes the note store", name)
	}

	hidden, err := isPathRestricted(rel, notes.Hidden)
	if err != nil {
		return "", "", err
	}
	if hidden {
		return "", "", errors.New("access denied: note '%s' is hidden", name)
	}
	return filepath.Join(notes.Dir, rel), rel, nil
}

// CreateNoteTool writes a new note into the note store.
type CreateNoteTool struct {
	notes *config.NotesAccess
}

func (t *CreateNoteTool) Name() string { return "create_note" }
func (t *CreateNoteTool) Description() string {
	return "Creates a new note. Fails if the note already exists. Args: name (string, path relative to the note store), content (string)."
}

func (t *CreateNoteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Note path relative to the note store, e.g. 'meetings/standup.md'.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full note body.",
			},
		},
		"required": []string{"name", "content"},
	}
}

func (t *CreateNoteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	name, nameOk := args["name"].(string)
	content, contentOk := args["content"].(string)
	if !nameOk || !contentOk {
		return "", errors.New("missing or invalid 'name' or 'content' arguments")
	}

	path, rel, err := resolveNote(t.notes, name)
	if err != nil {
		return "", err
	}
	readOnly, err := isPathRestricted(rel, t.notes.ReadOnly)
	if err != nil {
		return "", err
	}
	if readOnly {
		return "", errors.New("access denied: note '%s' is read-only", name)
	}

	if _, err := os.Stat(path); err == nil {
		return "", errors.New("note '%s' already exists", rel)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create directory for note '%s'", rel)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write note '%s'", rel)
	}
	return fmt.Sprintf("Created note %s (%d bytes)", rel, len(content)), nil
}

// ReadNoteTool returns the content of a single note.
type ReadNoteTool struct {
	notes *config.NotesAccess
}

func (t *ReadNoteTool) Name() string { return "read_note" }
func (t *ReadNoteTool) Description() string {
	return "Reads the entire content of a note. Args: name (string, path relative to the note store)."
}

func (t *ReadNoteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Note path relative to the note store.",
			},
		},
		"required": []string{"name"},
	}
}

func (t *ReadNoteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	name, ok := args["name"].(string)
	if !ok {
		return "", errors.New("missing or invalid 'name' argument")
	}

	path, rel, err := resolveNote(t.notes, name)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New("note '%s' does not exist", rel)
		}
		return "", errors.Wrapf(err, "failed to read note '%s'", rel)
	}
	return string(content), nil
}

// ListNotesTool lists notes in the store matching a glob pattern.
type ListNotesTool struct {
	notes *config.NotesAccess
}

func (t *ListNotesTool) Name() string { return "list_notes" }
func (t *ListNotesTool) Description() string {
	return "Lists notes in the note store. Args: pattern (string, optional glob such as 'meetings/**', defaults to all notes)."
}

func (t *ListNotesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern relative to the note store. Defaults to '**/*.md'.",
			},
		},
	}
}

func (t *ListNotesTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	pattern := "**/*.md"
	if p, ok := args["pattern"].(string); ok && p != "" {
		pattern = p
	}

	if _, err := os.Stat(t.notes.Dir); os.IsNotExist(err) {
		return "No notes found.", nil
	}
	matches, err := doublestar.Glob(os.DirFS(t.notes.Dir), pattern)
	if err != nil {
		return "", errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
	}

	var visible []string
	for _, m := range matches {
		hidden, err := isPathRestricted(filepath.FromSlash(m), t.notes.Hidden)
		if err != nil {
			return "", err
		}
		if !hidden {
			visible = append(visible, m)
		}
	}
	if len(visible) == 0 {
		return "No notes found.", nil
	}
	sort.Strings(visible)
	return strings.Join(visible, "\n"), nil
}
