// Package eval measures answer quality against question sets with known
// theorems and facts.
package eval

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Difficulty levels for evaluation datasets.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Dataset is a collection of test cases for evaluation.
type Dataset struct {
	Name       string     `json:"name" yaml:"name"`
	Difficulty string     `json:"difficulty" yaml:"difficulty"`
	Tests      []TestCase `json:"tests" yaml:"tests"`
}

// TestCase defines a single evaluation question.
type TestCase struct {
	Question string `json:"question" yaml:"question"`
	// ExpectedTheorems must appear among the answer's sources.
	ExpectedTheorems []string `json:"expected_theorems" yaml:"expected_theorems"`
	// ExpectedFacts should appear in the answer text. Alternatives are
	// pipe-separated: "divides|is a divisor of".
	ExpectedFacts []string `json:"expected_facts" yaml:"expected_facts"`
	// Ungrounded marks questions that should not match any theorem.
	Ungrounded bool   `json:"ungrounded,omitempty" yaml:"ungrounded"`
	Category   string `json:"category" yaml:"category"`
}

// LoadDataset reads a dataset from a YAML (or JSON) file.
func LoadDataset(path string) (Dataset, error) {
	var ds Dataset
	data, err := os.ReadFile(path)
	if err != nil {
		return ds, err
	}
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return ds, fmt.Errorf("eval: parsing %s: %w", path, err)
	}
	if len(ds.Tests) == 0 {
		return ds, fmt.Errorf("eval: %s has no tests", path)
	}
	for i, tc := range ds.Tests {
		if tc.Question == "" {
			return ds, fmt.Errorf("eval: %s: test %d has no question", path, i+1)
		}
	}
	if ds.Name == "" {
		ds.Name = path
	}
	return ds, nil
}

// AlgebraDataset is a small smoke-test set for an undergraduate algebra
// corpus.
func AlgebraDataset() Dataset {
	return Dataset{
		Name:       "Algebra - Core Theorems",
		Difficulty: DifficultyEasy,
		Tests: []TestCase{
			{
				Question:         "Why does the order of a subgroup divide the order of a finite group?",
				ExpectedTheorems: []string{"Lagrange's Theorem"},
				ExpectedFacts:    []string{"coset", "divide|divisor"},
				Category:         "single-theorem",
			},
			{
				Question:         "If p is a prime dividing the order of G, must G have an element of order p?",
				ExpectedTheorems: []string{"Cauchy's Theorem"},
				ExpectedFacts:    []string{"element of order p|order p"},
				Category:         "single-theorem",
			},
			{
				Question:         "How are the kernel and image of a group homomorphism related?",
				ExpectedTheorems: []string{"First Isomorphism Theorem"},
				ExpectedFacts:    []string{"kernel", "isomorphic|isomorphism"},
				Category:         "single-theorem",
			},
			{
				Question:         "Does every nonzero commutative ring have a maximal ideal, and what does the proof rely on?",
				ExpectedTheorems: []string{"Krull's Theorem", "Zorn's Lemma"},
				ExpectedFacts:    []string{"maximal ideal", "zorn"},
				Category:         "dependency",
			},
			{
				Question:   "What is the best pizza topping?",
				Ungrounded: true,
				Category:   "out-of-domain",
			},
		},
	}
}
