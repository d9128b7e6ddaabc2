package retrieval

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// RerankOptions tunes post-search score adjustments.
type RerankOptions struct {
	// PathPrefix boosts hits whose path starts with this prefix.
	PathPrefix string
	// PrefixBoost is the multiplicative bonus for a prefix match
	// (0.2 means a 20% boost).
	PrefixBoost float64
	// RecencyWeight boosts hits from dated daily-log files, decaying with
	// age. Zero disables recency boosting.
	RecencyWeight float64
	// Now anchors recency; zero value means time.Now().
	Now time.Time
}

var dailyLogDate = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\.md$`)

// Rerank applies path-prefix and date-recency boosts and re-sorts by the
// adjusted score. The input slice is modified in place and returned.
func Rerank(results []Result, opts RerankOptions) []Result {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	for i := range results {
		r := &results[i]
		if opts.PathPrefix != "" && opts.PrefixBoost > 0 && strings.HasPrefix(r.Path, opts.PathPrefix) {
			r.Score *= 1 + opts.PrefixBoost
		}
		if opts.RecencyWeight > 0 {
			if m := dailyLogDate.FindStringSubmatch(filepath.Base(r.Path)); m != nil {
				if day, err := time.Parse("2006-01-02", m[1]); err == nil {
					ageDays := now.Sub(day).Hours() / 24
					if ageDays < 0 {
						ageDays = 0
					}
					r.Score *= 1 + opts.RecencyWeight/(1+ageDays)
				}
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}

// FileGroup collects hits from a single source file, ordered by start line.
type FileGroup struct {
	Path    string
	Results []Result
}

// GroupByFile buckets results per source file, preserving the overall score
// order across groups (a file's group is ranked by its best hit).
func GroupByFile(results []Result) []FileGroup {
	order := make([]string, 0)
	byPath := make(map[string][]Result)
	for _, r := range results {
		if _, seen := byPath[r.Path]; !seen {
			order = append(order, r.Path)
		}
		byPath[r.Path] = append(byPath[r.Path], r)
	}

	groups := make([]FileGroup, 0, len(order))
	for _, path := range order {
		hits := byPath[path]
		sort.Slice(hits, func(i, j int) bool { return hits[i].StartLine < hits[j].StartLine })
		groups = append(groups, FileGroup{Path: path, Results: hits})
	}
	return groups
}

// DeduplicateOverlapping drops a candidate whose line range overlaps an
// already-kept hit from the same file by at least threshold (a ratio of the
// candidate's own line count). Results must be sorted by score descending so
// the higher-scored hit of an overlapping pair wins.
func DeduplicateOverlapping(results []Result, threshold float64) []Result {
	if threshold <= 0 {
		return results
	}

	kept := make([]Result, 0, len(results))
	for _, r := range results {
		dup := false
		for _, k := range kept {
			if k.Path != r.Path {
				continue
			}
			if overlapRatio(r, k) >= threshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, r)
		}
	}
	return kept
}

func overlapRatio(candidate, kept Result) float64 {
	lo := candidate.StartLine
	if kept.StartLine > lo {
		lo = kept.StartLine
	}
	hi := candidate.EndLine
	if kept.EndLine < hi {
		hi = kept.EndLine
	}
	overlap := hi - lo + 1
	if overlap <= 0 {
		return 0
	}
	span := candidate.EndLine - candidate.StartLine + 1
	if span <= 0 {
		return 0
	}
	return float64(overlap) / float64(span)
}
