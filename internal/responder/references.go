package responder

import (
	"fmt"
	"strings"

	"github.com/careline/careline/internal/domain"
	"github.com/careline/careline/internal/protocol"
)

const previewRunes = 60

// FormatReferences renders search hits as the citation trailer appended
// to an assistant reply:
//
//	**参考文档:**
//	1. source.md
//	   preview text
func FormatReferences(results []domain.SearchResult) (string, []domain.Citation) {
	if len(results) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("\n\n")
	sb.WriteString(protocol.ReferenceMarker)
	sb.WriteString("\n")

	citations := make([]domain.Citation, 0, len(results))
	for i, res := range results {
		preview := previewOf(res.Chunk.Content)
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, res.Chunk.Source, preview)
		citations = append(citations, domain.Citation{
			Source:         res.Chunk.Source,
			ContentPreview: preview,
		})
	}

	return strings.TrimRight(sb.String(), "\n"), citations
}

func previewOf(content string) string {
	oneLine := strings.Join(strings.Fields(content), " ")
	runes := []rune(oneLine)
	if len(runes) <= previewRunes {
		return oneLine
	}
	return string(runes[:previewRunes]) + "…"
}
