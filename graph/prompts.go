package graph

import "github.com/brunobiangulo/theoremgraph/llm"

// TheoremPrompt asks for every theorem-like statement in a chunk.
var TheoremPrompt = llm.MustTemplate("theorem", `You are an expert mathematician. Extract all mathematical theorems, lemmas, propositions, corollaries and definitions from the text below.

Return ONLY a valid JSON object in this exact format (no other text):
{
  "theorems": [
    {
      "name": "theorem name",
      "statement": "formal mathematical statement",
      "proof": "proof text or 'Not provided'",
      "subject": "main subject: Algebra, Analysis, Topology, Number Theory, Geometry, Probability, or Logic",
      "domain": "specific subdomain like Linear Algebra, Real Analysis, Group Theory",
      "dependencies": ["names of theorems used in the proof"],
      "type": "one of: Theorem, Lemma, Proposition, Corollary, Conjecture, Definition, Property, Hypothesis"
    }
  ]
}

Rules:
1. Extract ALL mathematical statements.
2. Use clear, standard mathematical terminology.
3. If the proof is not explicit, write "Not provided".
4. Dependencies are theorem names mentioned in the proof.
5. Choose exactly one type per theorem.
6. Preserve all mathematical symbols exactly.
7. Do not include explanations, apologies or any text outside the JSON object.
8. If there are none, return {"theorems": []}.

Text to analyze:
{{.Text}}

JSON response:`)

// ExamplePrompt asks for worked examples and the theorems they illustrate.
var ExamplePrompt = llm.MustTemplate("examples", `You are an expert mathematician. Extract all mathematical examples from the text below.

Return ONLY a valid JSON object in this exact format (no other text):
{
  "examples": [
    {
      "name": "example title or 'Example: brief description'",
      "content": "the complete example with solution or work shown",
      "subject": "same subject classification as theorems",
      "domain": "same domain classification as theorems",
      "illustrates_theorems": ["names of theorems this example demonstrates"],
      "difficulty": "Easy, Medium, or Hard"
    }
  ]
}

Rules:
1. Examples include worked problems, illustrations and applications.
2. Skip any book introduction.
3. Reference the theorems each example demonstrates.
4. Preserve all mathematical symbols exactly.
5. Do not include explanations, apologies or any text outside the JSON object.
6. If no examples are found, return {"examples": []}.

Text to analyze:
{{.Text}}

JSON response:`)
