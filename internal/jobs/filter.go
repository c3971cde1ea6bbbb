// Package jobs holds the client-side job list: the search projection and
// the per-entity action concurrency tracker.
package jobs

import (
	"strings"

	"github.com/mbaumer/clipq/pkg/models"
)

// Filter returns the subsequence of jobs whose title, description, source
// URL, or filename contains query, case-insensitively. An empty query
// returns the input unchanged. Order and relative position are preserved;
// the input is never mutated.
func Filter(jobs []models.Job, query string) []models.Job {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return jobs
	}

	out := make([]models.Job, 0, len(jobs))
	for _, job := range jobs {
		if matches(job, q) {
			out = append(out, job)
		}
	}
	return out
}

func matches(job models.Job, q string) bool {
	return strings.Contains(strings.ToLower(job.Title), q) ||
		strings.Contains(strings.ToLower(job.Description), q) ||
		strings.Contains(strings.ToLower(job.SourceURL), q) ||
		strings.Contains(strings.ToLower(job.Filename), q)
}
