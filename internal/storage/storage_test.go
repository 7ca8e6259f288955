package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteJSONAtomic_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")

	require.NoError(t, WriteJSONAtomic(path, sample{Name: "alpha", Count: 3}))

	var got sample
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, 3, got.Count)
}

func TestWriteJSONAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	require.NoError(t, WriteJSONAtomic(path, sample{Name: "a"}))
	require.NoError(t, WriteJSONAtomic(path, sample{Name: "b"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.json", entries[0].Name())
}

func TestReadJSON_MissingFile(t *testing.T) {
	var got sample
	err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &got)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadJSON_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var got sample
	assert.Error(t, ReadJSON(path, &got))
}

const sampleSchema = `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string"},
    "count": {"type": "integer"}
  }
}`

func TestReadValidatedJSON(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"name":"x","count":1}`), 0o644))

	var got sample
	require.NoError(t, ReadValidatedJSON(good, sampleSchema, &got))
	assert.Equal(t, "x", got.Name)

	// Wrong shape: name missing, count is a string.
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"count":"many"}`), 0o644))
	assert.Error(t, ReadValidatedJSON(bad, sampleSchema, &got))
}

func TestValidateDocument(t *testing.T) {
	assert.NoError(t, ValidateDocument(sampleSchema, []byte(`{"name":"ok"}`)))
	assert.Error(t, ValidateDocument(sampleSchema, []byte(`{"count":2}`)))
	assert.Error(t, ValidateDocument(sampleSchema, []byte(`not json`)))
}
