package responder

import (
	"strings"
	"testing"

	"github.com/careline/careline/internal/domain"
	"github.com/careline/careline/internal/protocol"
)

func TestFormatReferences_Empty(t *testing.T) {
	trailer, citations := FormatReferences(nil)
	if trailer != "" || citations != nil {
		t.Errorf("Expected empty trailer for no results, got %q / %+v", trailer, citations)
	}
}

func TestFormatReferences_RoundTrip(t *testing.T) {
	results := []domain.SearchResult{
		{Chunk: domain.Chunk{Source: "faq.md", Content: "退货政策：7天无理由退货。"}},
		{Chunk: domain.Chunk{Source: "warranty.txt", Content: "保修期为一年。"}},
	}

	trailer, citations := FormatReferences(results)
	if len(citations) != 2 {
		t.Fatalf("Expected 2 citations, got %d", len(citations))
	}

	body := "这是回答正文。" + trailer
	visible, extracted := protocol.ExtractReferences(body)

	if visible != "这是回答正文。" {
		t.Errorf("Expected clean visible text, got %q", visible)
	}
	if len(extracted) != 2 {
		t.Fatalf("Expected 2 extracted citations, got %d", len(extracted))
	}
	for i := range citations {
		if extracted[i].Source != citations[i].Source {
			t.Errorf("Citation %d source mismatch: %q vs %q", i, extracted[i].Source, citations[i].Source)
		}
		if extracted[i].ContentPreview != citations[i].ContentPreview {
			t.Errorf("Citation %d preview mismatch: %q vs %q", i, extracted[i].ContentPreview, citations[i].ContentPreview)
		}
	}
}

func TestFormatReferences_LongPreviewTruncated(t *testing.T) {
	long := strings.Repeat("测试内容", 40)
	_, citations := FormatReferences([]domain.SearchResult{
		{Chunk: domain.Chunk{Source: "long.md", Content: long}},
	})

	preview := []rune(citations[0].ContentPreview)
	if len(preview) > 61 {
		t.Errorf("Expected preview capped at 60 runes plus ellipsis, got %d", len(preview))
	}
	if !strings.HasSuffix(citations[0].ContentPreview, "…") {
		t.Error("Expected truncated preview to end with ellipsis")
	}
}
