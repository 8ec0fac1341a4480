package record

import "strings"

// TheoremType is the logical role of a theorem record.
type TheoremType string

// Theorem types accepted by the graph. Anything else normalises to TypeTheorem.
const (
	TypeTheorem     TheoremType = "theorem"
	TypeLemma       TheoremType = "lemma"
	TypeProposition TheoremType = "proposition"
	TypeCorollary   TheoremType = "corollary"
	TypeConjecture  TheoremType = "conjecture"
	TypeDefinition  TheoremType = "definition"
	TypeProperty    TheoremType = "property"
	TypeHypothesis  TheoremType = "hypothesis"
)

// TheoremTypes lists every valid TheoremType.
var TheoremTypes = []TheoremType{
	TypeTheorem, TypeLemma, TypeProposition, TypeCorollary,
	TypeConjecture, TypeDefinition, TypeProperty, TypeHypothesis,
}

// NormalizeTheoremType maps free-form model output onto the closed set of
// theorem types. Matching ignores case and surrounding whitespace; unknown
// values fall back to TypeTheorem.
func NormalizeTheoremType(s string) TheoremType {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, t := range TheoremTypes {
		if key == string(t) {
			return t
		}
	}
	return TypeTheorem
}

// Difficulty grades an example.
type Difficulty string

// Example difficulties. Anything else normalises to DifficultyMedium.
const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// Difficulties lists every valid Difficulty.
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// NormalizeDifficulty maps free-form model output onto Easy, Medium or Hard,
// ignoring case. Unknown values fall back to DifficultyMedium.
func NormalizeDifficulty(s string) Difficulty {
	key := strings.TrimSpace(s)
	for _, d := range Difficulties {
		if strings.EqualFold(key, string(d)) {
			return d
		}
	}
	return DifficultyMedium
}
