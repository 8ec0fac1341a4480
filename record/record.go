// Package record defines the theorem and example records that flow from
// extraction into the graph, together with the normalisation rules applied
// to model output before anything is persisted.
package record

// ProofNotProvided is stored when a theorem arrives without a proof.
const ProofNotProvided = "Not provided"

// Theorem is a named mathematical statement. Name is its identity in the graph.
type Theorem struct {
	Name         string      `json:"name"`
	Statement    string      `json:"statement"`
	Proof        string      `json:"proof"`
	Subject      string      `json:"subject"`
	Domain       string      `json:"domain"`
	Type         TheoremType `json:"type"`
	Dependencies []string    `json:"dependencies"`
}

// IsStub reports whether the theorem was only created to satisfy a
// dependency reference and has not been extracted yet.
func (t Theorem) IsStub() bool {
	return t.Statement == ""
}

// Example is a worked problem that illustrates one or more theorems.
type Example struct {
	Name                string     `json:"name"`
	Content             string     `json:"content"`
	Subject             string     `json:"subject"`
	Domain              string     `json:"domain"`
	Difficulty          Difficulty `json:"difficulty"`
	IllustratesTheorems []string   `json:"illustrates_theorems"`
}
