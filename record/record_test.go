package record

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTheoremType(t *testing.T) {
	tests := []struct {
		in   string
		want TheoremType
	}{
		{"lemma", TypeLemma},
		{"Lemma", TypeLemma},
		{"  COROLLARY ", TypeCorollary},
		{"definition", TypeDefinition},
		{"hypothesis", TypeHypothesis},
		{"axiom", TypeTheorem},
		{"", TypeTheorem},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTheoremType(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeDifficulty(t *testing.T) {
	tests := []struct {
		in   string
		want Difficulty
	}{
		{"Easy", DifficultyEasy},
		{"easy", DifficultyEasy},
		{" HARD", DifficultyHard},
		{"Medium", DifficultyMedium},
		{"trivial", DifficultyMedium},
		{"", DifficultyMedium},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDifficulty(tt.in), "input %q", tt.in)
	}
}

func TestParseTheorem(t *testing.T) {
	raw := json.RawMessage(`{
		"name": " Fermat's Little Theorem ",
		"statement": "a^p ≡ a (mod p)",
		"subject": "Algebra",
		"domain": "Number Theory",
		"type": "Theorem",
		"dependencies": ["Lagrange's Theorem", "", "Lagrange's Theorem", "Fermat's Little Theorem"]
	}`)

	th, err := ParseTheorem(raw)
	require.NoError(t, err)
	assert.Equal(t, "Fermat's Little Theorem", th.Name)
	assert.Equal(t, ProofNotProvided, th.Proof)
	assert.Equal(t, TypeTheorem, th.Type)
	assert.Equal(t, []string{"Lagrange's Theorem"}, th.Dependencies)
	assert.False(t, th.IsStub())
}

func TestParseTheoremLegacyTypeField(t *testing.T) {
	raw := json.RawMessage(`{"name":"L","statement":"s","subject":"Algebra","domain":"Groups","t_type":"lemma","dependencies":"Cauchy"}`)
	th, err := ParseTheorem(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeLemma, th.Type)
	assert.Equal(t, []string{"Cauchy"}, th.Dependencies)
}

func TestParseTheoremRejections(t *testing.T) {
	long := make([]byte, 301)
	for i := range long {
		long[i] = 'n'
	}

	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"missing name", `{"statement":"s","subject":"a","domain":"b"}`, "name"},
		{"blank name", `{"name":"  ","statement":"s","subject":"a","domain":"b"}`, "name"},
		{"missing statement", `{"name":"T","subject":"a","domain":"b"}`, "statement"},
		{"missing subject", `{"name":"T","statement":"s","domain":"b"}`, "subject"},
		{"missing domain", `{"name":"T","statement":"s","subject":"a"}`, "domain"},
		{"name too long", `{"name":"` + string(long) + `","statement":"s","subject":"a","domain":"b"}`, "name"},
		{"malformed", `["not","an","object"]`, ""},
		{"bad dependencies", `{"name":"T","statement":"s","subject":"a","domain":"b","dependencies":{"x":1}}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTheorem(json.RawMessage(tt.raw))
			require.Error(t, err)
			var rej *Rejection
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, "theorem", rej.Kind)
			assert.Equal(t, tt.field, rej.Field)
		})
	}
}

func TestParseExample(t *testing.T) {
	raw := json.RawMessage(`{
		"name": "Order of 3 mod 7",
		"content": "3^6 ≡ 1 (mod 7)",
		"subject": "Algebra",
		"domain": "Number Theory",
		"difficulty": "easy",
		"illustrates_theorems": ["Fermat's Little Theorem"]
	}`)

	ex, err := ParseExample(raw)
	require.NoError(t, err)
	assert.Equal(t, "Order of 3 mod 7", ex.Name)
	assert.Equal(t, DifficultyEasy, ex.Difficulty)
	assert.Equal(t, []string{"Fermat's Little Theorem"}, ex.IllustratesTheorems)
}

func TestParseExampleDefaults(t *testing.T) {
	ex, err := ParseExample(json.RawMessage(`{"name":"E","content":"c","subject":"a","domain":"b","difficulty":"impossible","illustrates_theorems":null}`))
	require.NoError(t, err)
	assert.Equal(t, DifficultyMedium, ex.Difficulty)
	assert.Empty(t, ex.IllustratesTheorems)
}

func TestParseExampleMissingContent(t *testing.T) {
	_, err := ParseExample(json.RawMessage(`{"name":"E","subject":"a","domain":"b"}`))
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "content", rej.Field)
	assert.Equal(t, "missing", rej.Reason)
	assert.Contains(t, rej.Error(), `example "E" rejected`)
}

func TestCleanNames(t *testing.T) {
	got := CleanNames([]string{" B ", "A", "", "B", "self", "C"}, "self")
	assert.Equal(t, []string{"B", "A", "C"}, got)
}
