package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash_Deterministic(t *testing.T) {
	a := Hash("Backend Engineer", "Acme", "Berlin")
	b := Hash("Backend Engineer", "Acme", "Berlin")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHash_NormalizesCaseAndWhitespace(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		company  string
		location string
	}{
		{"upper case", "BACKEND ENGINEER", "ACME", "BERLIN"},
		{"mixed case", "Backend engineer", "acme", "Berlin"},
		{"padded", "  Backend Engineer  ", " Acme ", "\tBerlin\n"},
	}

	want := Hash("backend engineer", "acme", "berlin")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, want, Hash(tt.title, tt.company, tt.location))
		})
	}
}

func TestHash_DistinctInputsDiffer(t *testing.T) {
	a := Hash("Backend Engineer", "Acme", "Berlin")
	b := Hash("Backend Engineer", "Acme", "Munich")
	c := Hash("Frontend Engineer", "Acme", "Berlin")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestContentID(t *testing.T) {
	id := ContentID("Backend Engineer", "Acme")
	assert.True(t, IsContentID(id))
	assert.Len(t, id, len("ch-")+16)

	// Location must not influence the content identifier.
	assert.Equal(t, id, ContentID(" backend engineer ", "ACME"))
	assert.False(t, IsContentID("gh-12345"))
}
