package theoremgraph

import "errors"

var (
	// ErrGraphUnavailable is returned when the graph store cannot be reached
	// or its schema cannot be established.
	ErrGraphUnavailable = errors.New("theoremgraph: graph store unavailable")

	// ErrLLMUnavailable is returned when the language model cannot serve a
	// classification or answer request.
	ErrLLMUnavailable = errors.New("theoremgraph: LLM provider unavailable")

	// ErrExtractionFailed is returned when every chunk of a document failed
	// at the language model, so nothing could be extracted.
	ErrExtractionFailed = errors.New("theoremgraph: extraction failed for every chunk")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("theoremgraph: unsupported document format")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("theoremgraph: invalid configuration")

	// ErrEmptyQuestion is returned by Query for a blank question.
	ErrEmptyQuestion = errors.New("theoremgraph: empty question")

	// ErrTheoremNotFound is returned when a named theorem does not exist or
	// is only a forward-reference stub.
	ErrTheoremNotFound = errors.New("theoremgraph: theorem not found")
)
