package kb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/careline/careline/internal/config"
	"github.com/careline/careline/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return NewService(repo, config.KnowledgeConfig{
		UploadDir:    t.TempDir(),
		ChunkTokens:  50,
		ChunkOverlap: 5,
	})
}

func TestService_IngestTextFile(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	content := "退货政策：商品签收后7天内可无理由退货。\n\n换货政策：15天内支持同型号换货。"
	n, err := s.IngestFile(ctx, "policies", "returns.md", []byte(content))
	if err != nil {
		t.Fatalf("IngestFile failed: %v", err)
	}
	if n == 0 {
		t.Fatal("Expected at least one chunk")
	}

	// The raw upload is kept on disk.
	if _, err := os.Stat(filepath.Join(s.uploadDir, "returns.md")); err != nil {
		t.Errorf("Expected stored upload file: %v", err)
	}

	results, err := s.Search(ctx, "policies", "退货", 5, "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Expected search hit for 退货")
	}
	if results[0].Chunk.Source != "returns.md" {
		t.Errorf("Expected source returns.md, got %q", results[0].Chunk.Source)
	}
}

func TestService_IngestRejectsUnsupportedFormat(t *testing.T) {
	s := newTestService(t)

	_, err := s.IngestFile(context.Background(), "docs", "report.pdf", []byte("%PDF"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestService_IngestCSVRowPerChunk(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	csvData := "型号,价格\niPhone 15,5999\n小米14,3999\n"
	n, err := s.IngestFile(ctx, "products", "prices.csv", []byte(csvData))
	if err != nil {
		t.Fatalf("IngestFile failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 chunks (one per data row), got %d", n)
	}

	results, err := s.Search(ctx, "products", "iPhone", 5, "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 hit, got %d", len(results))
	}
	if results[0].Chunk.Content != "型号: iPhone 15\n价格: 5999" {
		t.Errorf("Unexpected row chunk: %q", results[0].Chunk.Content)
	}
}

func TestService_SearchRanksByOverlap(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.AddChunk(ctx, "kb", "a.md", "退货政策和退款流程说明"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddChunk(ctx, "kb", "b.md", "物流配送时效说明"); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, "kb", "退货退款", 5, "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected only the matching chunk, got %d", len(results))
	}
	if results[0].Chunk.Source != "a.md" {
		t.Errorf("Expected a.md ranked first, got %q", results[0].Chunk.Source)
	}
}

func TestService_SearchFilterSource(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.AddChunk(ctx, "kb", "a.md", "保修服务说明"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddChunk(ctx, "kb", "b.md", "保修期限一年"); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, "kb", "保修", 5, "b.md")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.Source != "b.md" {
		t.Errorf("Expected only b.md, got %+v", results)
	}
}

func TestService_SearchEmptyQuery(t *testing.T) {
	s := newTestService(t)

	results, err := s.Search(context.Background(), "kb", "，。！", 5, "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results != nil {
		t.Errorf("Expected nil results for term-free query, got %+v", results)
	}
}
