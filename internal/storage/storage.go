// Package storage provides atomic JSON persistence helpers shared by the
// dedupe store and the posting ledgers.
//
// Independent pipeline invocations may race on the same files, so every write
// goes through a temp-file-then-rename cycle: a crash mid-write leaves the
// previous file intact, and a rename is the only visible transition.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"
)

// WriteError represents a failure while persisting a JSON document.
type WriteError struct {
	Path    string
	Message string
	Cause   error
}

func (e *WriteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("write error for %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("write error for %s: %s", e.Path, e.Message)
}

func (e *WriteError) Unwrap() error {
	return e.Cause
}

// WriteJSONAtomic marshals v and writes it to path atomically: the document is
// written to a temp file in the target directory, flushed, and renamed over
// the target.
func WriteJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: path, Message: "failed to create directory", Cause: err}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &WriteError{Path: path, Message: "failed to marshal JSON", Cause: err}
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return &WriteError{Path: path, Message: "failed to create temp file", Cause: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &WriteError{Path: path, Message: "failed to write temp file", Cause: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &WriteError{Path: path, Message: "failed to flush temp file", Cause: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &WriteError{Path: path, Message: "failed to close temp file", Cause: err}
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return &WriteError{Path: path, Message: "failed to rename temp file", Cause: err}
	}

	return nil
}

// ReadJSON reads path and unmarshals it into v.
// Returns os.ErrNotExist (wrapped) when the file is absent.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// ReadValidatedJSON reads path, validates the raw document against the given
// JSON Schema, then unmarshals it into v. Shape drift in a persisted file is
// caught here rather than surfacing later as zero-valued fields.
func ReadValidatedJSON(path, schema string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := ValidateDocument(schema, data); err != nil {
		return fmt.Errorf("unexpected shape in %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// ValidateDocument validates raw JSON content against a JSON Schema string.
func ValidateDocument(schema string, document []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(schema)
	documentLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed during load: %w", err)
	}
	if result.Valid() {
		return nil
	}

	// Report the first few problems; one is usually enough to diagnose.
	msgs := ""
	for i, desc := range result.Errors() {
		if i == 3 {
			msgs += fmt.Sprintf("; and %d more", len(result.Errors())-i)
			break
		}
		if i > 0 {
			msgs += "; "
		}
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		msgs += fmt.Sprintf("%s: %s", field, desc.Description())
	}
	return fmt.Errorf("validation failed: %s", msgs)
}
