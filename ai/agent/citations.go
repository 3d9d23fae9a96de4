package agent

import (
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var bareURLPattern = regexp.MustCompile(`https?://\S+`)

// CitationReport summarizes how a final answer cites its sources.
type CitationReport struct {
	Links    int `json:"links"`
	BareURLs int `json:"bare_urls"`
}

// auditCitations parses the answer as markdown and counts proper link
// citations versus bare URLs. Autolinks and URLs sitting in plain text count
// as bare; the system prompt forbids both.
func auditCitations(answer string) CitationReport {
	report := CitationReport{}
	source := []byte(answer)

	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Link:
			report.Links++
			// Skip the link's children so the destination text inside
			// [url](url) style links is not double-counted as bare.
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			report.BareURLs++
		case *ast.Text:
			segment := node.Segment
			report.BareURLs += len(bareURLPattern.FindAll(segment.Value(source), -1))
		}
		return ast.WalkContinue, nil
	})

	return report
}
