// Package parser extracts raw text from source documents.
package parser

import "context"

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Sections []Section // Ordered sections extracted from the document
	Method   string    // "native"
	Metadata map[string]string
}

// Section is a contiguous block of extracted text: a PDF page, a
// spreadsheet sheet or a whole text file.
type Section struct {
	Heading    string
	Content    string
	PageNumber int
	Metadata   map[string]string
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}
