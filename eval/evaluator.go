package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/theoremgraph"
)

// Querier is the part of the engine an evaluation drives.
type Querier interface {
	Query(ctx context.Context, question string, opts ...theoremgraph.QueryOption) (*theoremgraph.Answer, error)
}

// Evaluator runs evaluation test sets against an engine. Every question is
// asked in a fresh conversation.
type Evaluator struct {
	engine Querier
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(engine Querier) *Evaluator {
	return &Evaluator{engine: engine}
}

// Report holds the results of an evaluation run.
type Report struct {
	Dataset         string                      `json:"dataset"`
	Difficulty      string                      `json:"difficulty,omitempty"`
	TotalTests      int                         `json:"total_tests"`
	Passed          int                         `json:"passed"`
	Failed          int                         `json:"failed"`
	Metrics         AggregateMetrics            `json:"metrics"`
	CategoryMetrics map[string]AggregateMetrics `json:"category_metrics,omitempty"`
	Results         []TestResult                `json:"results"`
	RunTime         time.Duration               `json:"run_time"`
	TokenUsage      TokenUsage                  `json:"token_usage"`
}

// TokenUsage aggregates LLM token consumption across an evaluation run.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AggregateMetrics holds averaged metrics across tests that did not error.
type AggregateMetrics struct {
	AvgAccuracy      float64 `json:"avg_accuracy"`
	AvgTheoremRecall float64 `json:"avg_theorem_recall"`
	AvgCitationRate  float64 `json:"avg_citation_rate"`
	GroundedRate     float64 `json:"grounded_rate"`
	count            int
}

func (m *AggregateMetrics) add(r TestResult) {
	m.count++
	m.AvgAccuracy += r.Accuracy
	m.AvgTheoremRecall += r.TheoremRecall
	m.AvgCitationRate += r.CitationRate
	if r.Grounded {
		m.GroundedRate++
	}
}

func (m *AggregateMetrics) finish() {
	if m.count == 0 {
		return
	}
	n := float64(m.count)
	m.AvgAccuracy /= n
	m.AvgTheoremRecall /= n
	m.AvgCitationRate /= n
	m.GroundedRate /= n
}

// TestResult holds the result of a single test case.
type TestResult struct {
	Question         string   `json:"question"`
	Category         string   `json:"category,omitempty"`
	ExpectedTheorems []string `json:"expected_theorems,omitempty"`
	ExpectedFacts    []string `json:"expected_facts,omitempty"`
	Answer           string   `json:"answer"`
	Grounded         bool     `json:"grounded"`
	Sources          []string `json:"sources,omitempty"`
	Accuracy         float64  `json:"accuracy"`
	TheoremRecall    float64  `json:"theorem_recall"`
	CitationRate     float64  `json:"citation_rate"`
	Passed           bool     `json:"passed"`
	Error            string   `json:"error,omitempty"`
	TotalTokens      int      `json:"total_tokens"`
	ElapsedMs        int64    `json:"elapsed_ms"`
}

// Run asks every question in dataset and scores the answers. It stops early
// only when ctx is canceled.
func (e *Evaluator) Run(ctx context.Context, dataset Dataset) (*Report, error) {
	start := time.Now()
	report := &Report{
		Dataset:         dataset.Name,
		Difficulty:      dataset.Difficulty,
		TotalTests:      len(dataset.Tests),
		CategoryMetrics: make(map[string]AggregateMetrics),
	}

	for i, test := range dataset.Tests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, usage := e.runTest(ctx, test)
		report.Results = append(report.Results, result)

		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}
		if result.Error != "" {
			status = "ERROR"
		}
		slog.Info("eval: test complete",
			"progress", fmt.Sprintf("%d/%d", i+1, len(dataset.Tests)),
			"status", status,
			"theorem_recall", fmt.Sprintf("%.2f", result.TheoremRecall),
			"accuracy", fmt.Sprintf("%.2f", result.Accuracy),
			"elapsed_ms", result.ElapsedMs,
			"question", truncate(test.Question, 80))

		report.TokenUsage.PromptTokens += usage.PromptTokens
		report.TokenUsage.CompletionTokens += usage.CompletionTokens
		report.TokenUsage.TotalTokens += usage.TotalTokens

		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}

		// Errors would only drag the averages to zero.
		if result.Error != "" {
			continue
		}
		report.Metrics.add(result)
		if test.Category != "" {
			m := report.CategoryMetrics[test.Category]
			m.add(result)
			report.CategoryMetrics[test.Category] = m
		}
	}

	report.Metrics.finish()
	for cat, m := range report.CategoryMetrics {
		m.finish()
		report.CategoryMetrics[cat] = m
	}
	report.RunTime = time.Since(start)
	return report, nil
}

func (e *Evaluator) runTest(ctx context.Context, test TestCase) (TestResult, TokenUsage) {
	testStart := time.Now()
	result := TestResult{
		Question:         test.Question,
		Category:         test.Category,
		ExpectedTheorems: test.ExpectedTheorems,
		ExpectedFacts:    test.ExpectedFacts,
	}

	answer, err := e.engine.Query(ctx, test.Question)
	result.ElapsedMs = time.Since(testStart).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result, TokenUsage{}
	}

	result.Answer = answer.Text
	result.Grounded = answer.Grounded
	result.TotalTokens = answer.TotalTokens
	for _, s := range answer.Sources {
		result.Sources = append(result.Sources, s.Name)
	}
	result.Accuracy = computeAccuracy(answer, test.ExpectedFacts)
	result.TheoremRecall = computeTheoremRecall(answer, test.ExpectedTheorems)
	result.CitationRate = computeCitationRate(answer)
	result.Passed = passed(test, result)

	return result, TokenUsage{
		PromptTokens:     answer.PromptTokens,
		CompletionTokens: answer.CompletionTokens,
		TotalTokens:      answer.TotalTokens,
	}
}

// passed decides a test: ungrounded questions must stay ungrounded, the rest
// need at least half the expected theorems retrieved and half the facts
// stated.
func passed(test TestCase, r TestResult) bool {
	if test.Ungrounded {
		return !r.Grounded
	}
	if !r.Grounded {
		return false
	}
	if len(test.ExpectedTheorems) > 0 && r.TheoremRecall < 0.5 {
		return false
	}
	if len(test.ExpectedFacts) > 0 && r.Accuracy < 0.5 {
		return false
	}
	return true
}

// FormatReport produces a human-readable report string.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Evaluation Report: %s ===\n", r.Dataset)
	if r.Difficulty != "" {
		fmt.Fprintf(&b, "Difficulty: %s\n", r.Difficulty)
	}
	fmt.Fprintf(&b, "Total: %d | Passed: %d (%.1f%%) | Failed: %d\n",
		r.TotalTests, r.Passed, passRate(r.Passed, r.TotalTests), r.Failed)
	fmt.Fprintf(&b, "Run time: %s\n\n", r.RunTime.Round(time.Millisecond))

	fmt.Fprintf(&b, "Aggregate Metrics:\n")
	fmt.Fprintf(&b, "  Theorem Recall:  %.2f\n", r.Metrics.AvgTheoremRecall)
	fmt.Fprintf(&b, "  Accuracy:        %.2f\n", r.Metrics.AvgAccuracy)
	fmt.Fprintf(&b, "  Citation Rate:   %.2f\n", r.Metrics.AvgCitationRate)
	fmt.Fprintf(&b, "  Grounded:        %.2f\n\n", r.Metrics.GroundedRate)

	fmt.Fprintf(&b, "Token Usage:\n")
	fmt.Fprintf(&b, "  Prompt:     %d\n", r.TokenUsage.PromptTokens)
	fmt.Fprintf(&b, "  Completion: %d\n", r.TokenUsage.CompletionTokens)
	fmt.Fprintf(&b, "  Total:      %d\n\n", r.TokenUsage.TotalTokens)

	if len(r.CategoryMetrics) > 0 {
		cats := make([]string, 0, len(r.CategoryMetrics))
		for cat := range r.CategoryMetrics {
			cats = append(cats, cat)
		}
		sort.Strings(cats)

		fmt.Fprintf(&b, "Per-Category Metrics:\n")
		for _, cat := range cats {
			m := r.CategoryMetrics[cat]
			fmt.Fprintf(&b, "  [%s] Recall=%.2f Acc=%.2f Cite=%.2f Grnd=%.2f\n",
				cat, m.AvgTheoremRecall, m.AvgAccuracy, m.AvgCitationRate, m.GroundedRate)
		}
		fmt.Fprintln(&b)
	}

	for i, res := range r.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %d. %s\n", status, i+1, res.Question)
		if res.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", res.Error)
			continue
		}
		fmt.Fprintf(&b, "  Recall=%.2f Acc=%.2f Cite=%.2f Grounded=%t  (%dms)\n",
			res.TheoremRecall, res.Accuracy, res.CitationRate, res.Grounded, res.ElapsedMs)
		if len(res.Sources) > 0 {
			fmt.Fprintf(&b, "  Sources: %s\n", strings.Join(res.Sources, "; "))
		}
	}
	return b.String()
}

func passRate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
