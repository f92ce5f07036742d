// Package feedback analyzes user ratings collected by the chat service.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/careline/careline/internal/domain"
	"github.com/careline/careline/internal/kb"
	"github.com/careline/careline/internal/store"
)

const (
	// Ratings at or below this count as negative.
	lowRatingCeiling = 2

	// How far back each analysis run looks.
	analysisWindow = 7 * 24 * time.Hour

	maxKeywords = 10
)

var stopTerms = map[string]bool{
	"的": true, "了": true, "是": true, "我": true, "你": true,
	"不": true, "很": true, "没": true, "有": true, "就": true,
	"这": true, "那": true, "也": true, "都": true, "还": true,
}

// Report summarizes the low-rating feedback of one analysis window.
type Report struct {
	Since     time.Time          `json:"since"`
	Until     time.Time          `json:"until"`
	Total     int                `json:"total"`
	Keywords  []string           `json:"keywords"`
	Feedbacks []*domain.Feedback `json:"feedbacks"`
}

// Analyzer periodically surfaces negative feedback so operators notice
// recurring complaints.
type Analyzer struct {
	repo store.Repository
}

// NewAnalyzer creates an analyzer over the feedback store.
func NewAnalyzer(repo store.Repository) *Analyzer {
	return &Analyzer{repo: repo}
}

// Analyze collects the window's low-rating feedback and extracts the
// most frequent comment terms.
func (a *Analyzer) Analyze(ctx context.Context) (*Report, error) {
	until := time.Now()
	since := until.Add(-analysisWindow)

	feedbacks, err := a.repo.ListLowRatingFeedback(ctx, since, lowRatingCeiling)
	if err != nil {
		return nil, fmt.Errorf("list low rating feedback: %w", err)
	}

	return &Report{
		Since:     since,
		Until:     until,
		Total:     len(feedbacks),
		Keywords:  extractKeywords(feedbacks),
		Feedbacks: feedbacks,
	}, nil
}

// Run executes one analysis pass and logs the outcome. The structured
// log line is the delivery channel; a mail hook can replace it later.
func (a *Analyzer) Run(ctx context.Context) {
	report, err := a.Analyze(ctx)
	if err != nil {
		slog.Warn("Feedback analysis failed", "error", err)
		return
	}
	if report.Total == 0 {
		slog.Info("No low-rating feedback in window")
		return
	}
	slog.Info("Low-rating feedback report",
		"count", report.Total,
		"keywords", report.Keywords,
		"since", report.Since.Format("2006-01-02"),
	)
}

// extractKeywords counts comment terms across all feedback and returns
// the most frequent ones, stop terms excluded.
func extractKeywords(feedbacks []*domain.Feedback) []string {
	counts := make(map[string]int)
	for _, fb := range feedbacks {
		for _, term := range kb.Terms(fb.Comment) {
			if stopTerms[term] || len([]rune(term)) < 2 {
				continue
			}
			counts[term]++
		}
	}

	keywords := make([]string, 0, len(counts))
	for term := range counts {
		keywords = append(keywords, term)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}
