package search

import (
	"strings"

	"github.com/seanblong/docsearch/pkg/models"
)

// maxSummaryChunks bounds the context handed to the summarizer.
const maxSummaryChunks = 20

const markdownRules = `### Markdown formatting rules
- Use ### for main headings and #### for subheadings.
- Separate major sections with a horizontal rule (---).
- Use bullet points or numbered lists for key points.
- Use **bold** for important concepts and *italics* for subtle notes.
- Use blockquotes (>) for examples and tables for comparisons.
- Leave empty lines between paragraphs and sections.`

// conceptualPrompt asks for an explanatory markdown answer built from the
// top chunks of the grouped results.
func conceptualPrompt(query string, groups []models.DocumentGroup) string {
	var texts []string
	for _, g := range groups {
		for _, c := range g.TopChunks {
			texts = append(texts, c.Text)
		}
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful assistant. Based on the following context, answer the user's question in Markdown format.\n\n")
	sb.WriteString("## User Question\n")
	sb.WriteString(query)
	sb.WriteString("\n\n## Context\n")
	sb.WriteString(joinChunks(texts))
	sb.WriteString("\n\n## Guidelines\n\n")
	sb.WriteString(markdownRules)
	sb.WriteString(`

### Content
- Give a clear and informative answer based on the question and the context.
- Break complex concepts into short sections and avoid large blocks of text.
- Add examples when they help.
- End with a ### Summary section of 2 to 4 bullet points.

Be concise and accurate, with a professional and friendly tone.

## Markdown Answer
`)
	return sb.String()
}

// keywordPrompt asks for scannable bullet points drawn from the raw hits.
func keywordPrompt(query string, hits []models.ScoredHit) string {
	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		texts = append(texts, h.Text)
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful assistant. Based on the following text chunks, extract the most relevant bullet points for the user's keyword query. Return only the bullet points, without any additional text or explanation.\n\n")
	sb.WriteString("## User Keyword Query\n\"")
	sb.WriteString(query)
	sb.WriteString("\"\n\n## Relevant Chunks\n")
	sb.WriteString(joinChunks(texts))
	sb.WriteString(`

## Guidelines
- Output Markdown.
- List each important point as a bullet (- ).
- Bold keywords or phrases that match the query.
- Add sub-bullets for extra details where useful.

`)
	sb.WriteString(markdownRules)
	sb.WriteString("\n\n## Keyword-Based Highlights\n")
	return sb.String()
}

func joinChunks(texts []string) string {
	if len(texts) > maxSummaryChunks {
		texts = texts[:maxSummaryChunks]
	}
	return strings.Join(texts, "\n\n")
}
