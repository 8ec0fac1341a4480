package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Rejection explains why a candidate item was discarded.
type Rejection struct {
	Kind   string // "theorem" or "example"
	Name   string // may be empty when the name itself was the problem
	Field  string
	Reason string
}

func (r *Rejection) Error() string {
	if r.Field == "" {
		return fmt.Sprintf("%s %q rejected: %s", r.Kind, r.Name, r.Reason)
	}
	return fmt.Sprintf("%s %q rejected: field %s: %s", r.Kind, r.Name, r.Field, r.Reason)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// nameList accepts a JSON array of names, a single name, or null.
type nameList []string

func (n *nameList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*n = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if strings.TrimSpace(single) != "" {
			*n = nameList{single}
		}
		return nil
	}
	return errors.New("must be a list of names")
}

type theoremCandidate struct {
	Name         string   `json:"name" validate:"required,max=300"`
	Statement    string   `json:"statement" validate:"required"`
	Proof        string   `json:"proof"`
	Subject      string   `json:"subject" validate:"required"`
	Domain       string   `json:"domain" validate:"required"`
	Type         string   `json:"type"`
	LegacyType   string   `json:"t_type"`
	Dependencies nameList `json:"dependencies"`
}

type exampleCandidate struct {
	Name                string   `json:"name" validate:"required,max=300"`
	Content             string   `json:"content" validate:"required"`
	Subject             string   `json:"subject" validate:"required"`
	Domain              string   `json:"domain" validate:"required"`
	Difficulty          string   `json:"difficulty"`
	IllustratesTheorems nameList `json:"illustrates_theorems"`
}

// ParseTheorem strictly decodes one extracted item into a Theorem. Required
// fields are name, statement, subject and domain; the proof defaults to
// ProofNotProvided and the type is normalised. A failed parse returns a
// *Rejection.
func ParseTheorem(raw json.RawMessage) (Theorem, error) {
	var c theoremCandidate
	if err := json.Unmarshal(raw, &c); err != nil {
		return Theorem{}, &Rejection{Kind: "theorem", Reason: "malformed item: " + err.Error()}
	}
	c.Name = strings.TrimSpace(c.Name)
	c.Statement = strings.TrimSpace(c.Statement)
	c.Proof = strings.TrimSpace(c.Proof)
	c.Subject = strings.TrimSpace(c.Subject)
	c.Domain = strings.TrimSpace(c.Domain)

	if err := validate.Struct(c); err != nil {
		return Theorem{}, rejection("theorem", c.Name, err)
	}

	proof := c.Proof
	if proof == "" {
		proof = ProofNotProvided
	}
	typ := c.Type
	if strings.TrimSpace(typ) == "" {
		typ = c.LegacyType
	}

	return Theorem{
		Name:         c.Name,
		Statement:    c.Statement,
		Proof:        proof,
		Subject:      c.Subject,
		Domain:       c.Domain,
		Type:         NormalizeTheoremType(typ),
		Dependencies: CleanNames(c.Dependencies, c.Name),
	}, nil
}

// ParseExample strictly decodes one extracted item into an Example. Required
// fields are name, content, subject and domain; difficulty is normalised.
func ParseExample(raw json.RawMessage) (Example, error) {
	var c exampleCandidate
	if err := json.Unmarshal(raw, &c); err != nil {
		return Example{}, &Rejection{Kind: "example", Reason: "malformed item: " + err.Error()}
	}
	c.Name = strings.TrimSpace(c.Name)
	c.Content = strings.TrimSpace(c.Content)
	c.Subject = strings.TrimSpace(c.Subject)
	c.Domain = strings.TrimSpace(c.Domain)

	if err := validate.Struct(c); err != nil {
		return Example{}, rejection("example", c.Name, err)
	}

	return Example{
		Name:                c.Name,
		Content:             c.Content,
		Subject:             c.Subject,
		Domain:              c.Domain,
		Difficulty:          NormalizeDifficulty(c.Difficulty),
		IllustratesTheorems: CleanNames(c.IllustratesTheorems, ""),
	}, nil
}

// CleanNames trims names, drops empties, duplicates and self, and keeps the
// original order.
func CleanNames(names []string, self string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || n == self || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func rejection(kind, name string, err error) *Rejection {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := "missing"
		if fe.Tag() == "max" {
			reason = fmt.Sprintf("longer than %s characters", fe.Param())
		}
		return &Rejection{Kind: kind, Name: name, Field: fe.Field(), Reason: reason}
	}
	return &Rejection{Kind: kind, Name: name, Reason: err.Error()}
}
