package rerank

import "strings"

const scoringGuide = `You are a domain expert ranking how well a content chunk answers a given user query. Give a score between 0 and 100 based on relevance, clarity, completeness, and accuracy.

If the content contains exact keywords, phrases, or concepts from the query, treat it as more relevant. Reward content that directly matches or closely reflects the user's question. Penalize vague or unrelated text.

Scoring Guide:
- 100: Exact and complete answer. Highly relevant with key query terms clearly addressed.
- 70-99: Mostly relevant. Key terms are present but may lack full context.
- 40-69: Partially relevant. Mentions some related ideas but lacks clarity or depth.
- 10-39: Slightly relevant. Vague overlap with the query.
- 0-9: Completely irrelevant.

Only return a single integer score between 0 and 100 with no explanation or extra text.`

// Prompt builds the scoring prompt for one chunk.
func Prompt(query, content string) string {
	var sb strings.Builder
	sb.Grow(len(scoringGuide) + len(query) + len(content) + 64)
	sb.WriteString(scoringGuide)
	sb.WriteString("\n\nQuery:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nContent:\n")
	sb.WriteString(content)
	sb.WriteString("\n\nScore (0-100):")
	return sb.String()
}
