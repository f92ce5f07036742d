package protocol

import (
	"regexp"
	"strings"

	"github.com/careline/careline/internal/domain"
)

// ReferenceMarker is the literal line separating visible reply text
// from the citation trailer embedded in a response body.
const ReferenceMarker = "**参考文档:**"

var citationLine = regexp.MustCompile(`^(\d+)\.\s+(.+)$`)

// ExtractReferences splits a reply body into visible text and citation
// records. Lines before the marker form the visible text; after it,
// lines matching "N. source" open a citation and an indented line that
// follows becomes its preview. Lines that match neither are dropped,
// and a body without the marker is returned unchanged with no
// citations.
func ExtractReferences(content string) (string, []domain.Citation) {
	lines := strings.Split(content, "\n")

	markerAt := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == ReferenceMarker {
			markerAt = i
			break
		}
	}
	if markerAt == -1 {
		return content, nil
	}

	visible := strings.TrimRight(strings.Join(lines[:markerAt], "\n"), " \t\n")

	var citations []domain.Citation
	for _, line := range lines[markerAt+1:] {
		indented := line != "" && (line[0] == ' ' || line[0] == '\t')
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if m := citationLine.FindStringSubmatch(trimmed); m != nil && !indented {
			citations = append(citations, domain.Citation{Source: strings.TrimSpace(m[2])})
			continue
		}
		if indented && len(citations) > 0 {
			last := &citations[len(citations)-1]
			if last.ContentPreview == "" {
				last.ContentPreview = trimmed
			}
		}
	}

	return visible, citations
}
