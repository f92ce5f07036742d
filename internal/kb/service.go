package kb

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/careline/careline/internal/config"
	"github.com/careline/careline/internal/domain"
	"github.com/careline/careline/internal/store"
	"github.com/google/uuid"
)

// Allowed upload extensions. PDF/DOCX extraction is handled by an
// external ingestion job and is out of scope here.
var allowedExtensions = map[string]bool{
	".txt": true,
	".md":  true,
	".csv": true,
}

// ErrUnsupportedFormat is returned for uploads with an extension the
// ingester does not handle.
var ErrUnsupportedFormat = errors.New("unsupported file format, supported: .txt, .md, .csv")

// Service implements knowledge-base operations on top of the repository.
type Service struct {
	repo      store.Repository
	chunker   *Chunker
	uploadDir string
}

// NewService creates the knowledge-base service.
func NewService(repo store.Repository, cfg config.KnowledgeConfig) *Service {
	return &Service{
		repo:      repo,
		chunker:   NewChunker(cfg.ChunkTokens, cfg.ChunkOverlap),
		uploadDir: cfg.UploadDir,
	}
}

// IngestFile validates, stores, chunks, and indexes an uploaded file.
// It returns the number of chunks produced.
func (s *Service) IngestFile(ctx context.Context, collection, filename string, content []byte) (int, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		return 0, fmt.Errorf("create upload directory: %w", err)
	}
	dest := filepath.Join(s.uploadDir, filepath.Base(filename))
	if err := os.WriteFile(dest, content, 0644); err != nil {
		return 0, fmt.Errorf("store upload: %w", err)
	}

	var pieces []string
	if ext == ".csv" {
		rows, err := csvRows(content)
		if err != nil {
			return 0, fmt.Errorf("parse csv: %w", err)
		}
		pieces = rows
	} else {
		pieces = s.chunker.Split(string(content))
	}

	source := filepath.Base(filename)
	chunks := make([]domain.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, domain.Chunk{
			ID:          uuid.NewString(),
			Collection:  collection,
			Source:      source,
			Content:     piece,
			ChunkIndex:  i,
			TotalChunks: len(pieces),
		})
	}

	if err := s.repo.UpsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}
	return len(chunks), nil
}

// csvRows renders each data row as "header: value" lines so a row is
// searchable as one self-contained chunk.
func csvRows(content []byte) ([]string, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	var rows []string
	for _, record := range records[1:] {
		var sb strings.Builder
		for i, field := range record {
			name := fmt.Sprintf("col%d", i)
			if i < len(header) {
				name = header[i]
			}
			fmt.Fprintf(&sb, "%s: %s\n", name, field)
		}
		if sb.Len() > 0 {
			rows = append(rows, strings.TrimRight(sb.String(), "\n"))
		}
	}
	return rows, nil
}

// AddChunk indexes a single hand-written chunk and returns its ID.
func (s *Service) AddChunk(ctx context.Context, collection, source, content string) (string, error) {
	chunk := domain.Chunk{
		ID:          uuid.NewString(),
		Collection:  collection,
		Source:      source,
		Content:     content,
		ChunkIndex:  0,
		TotalChunks: 1,
	}
	if err := s.repo.UpsertChunks(ctx, []domain.Chunk{chunk}); err != nil {
		return "", fmt.Errorf("add chunk: %w", err)
	}
	return chunk.ID, nil
}

// Search ranks a collection's chunks against the query by term overlap.
// filterSource, when non-empty, restricts results to one source file.
func (s *Service) Search(ctx context.Context, collection, query string, limit int, filterSource string) ([]domain.SearchResult, error) {
	queryTerms := Terms(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	chunks, err := s.repo.ListChunks(ctx, collection, 0)
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w", collection, err)
	}

	if limit <= 0 {
		limit = 5
	}

	var results []domain.SearchResult
	for _, chunk := range chunks {
		if filterSource != "" && chunk.Source != filterSource {
			continue
		}
		score := scoreChunk(queryTerms, chunk.Content)
		if score > 0 {
			results = append(results, domain.SearchResult{Chunk: chunk, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// scoreChunk is the fraction of query terms present in the chunk, with
// a small bonus for repeated hits.
func scoreChunk(queryTerms []string, content string) float64 {
	freq := make(map[string]int)
	for _, t := range Terms(content) {
		freq[t]++
	}

	matched := 0
	hits := 0
	for _, t := range queryTerms {
		if n := freq[t]; n > 0 {
			matched++
			hits += n
		}
	}
	if matched == 0 {
		return 0
	}

	coverage := float64(matched) / float64(len(queryTerms))
	return coverage + float64(hits)/(float64(hits)+10)*0.1
}
