package sanitize

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Stats captures what the sanitizer did to one document.
type Stats struct {
	InputBytes  int `json:"input_bytes"`
	OutputBytes int `json:"output_bytes"`

	// ElementsRemoved counts removals by tag name.
	ElementsRemoved map[string]int `json:"elements_removed"`
	ElementsKept    int            `json:"elements_kept"`

	CommentsRemoved      int `json:"comments_removed"`
	SelectorRemovals     int `json:"selector_removals"`
	EmptyElementRemovals int `json:"empty_element_removals"`

	// PrunePasses is the number of empty-pruning passes until the fixed point.
	PrunePasses int `json:"prune_passes"`

	ParseDuration     time.Duration `json:"parse_duration_ms"`
	TransformDuration time.Duration `json:"transform_duration_ms"`
	TotalDuration     time.Duration `json:"total_duration_ms"`
}

// NewStats creates a new Stats instance with initialized maps.
func NewStats() *Stats {
	return &Stats{
		ElementsRemoved: make(map[string]int),
	}
}

// ReductionPercent returns the percentage reduction in size.
func (s *Stats) ReductionPercent() float64 {
	if s.InputBytes == 0 {
		return 0
	}
	return float64(s.InputBytes-s.OutputBytes) / float64(s.InputBytes) * 100
}

// TotalElementsRemoved returns the sum of all removed elements.
func (s *Stats) TotalElementsRemoved() int {
	total := 0
	for _, count := range s.ElementsRemoved {
		total += count
	}
	return total
}

// RecordRemoval records that an element was removed.
func (s *Stats) RecordRemoval(tag string) {
	s.ElementsRemoved[strings.ToLower(tag)]++
}

// Merge adds the counters of other into s. PrunePasses keeps the maximum.
func (s *Stats) Merge(other *Stats) {
	if other == nil {
		return
	}
	s.InputBytes += other.InputBytes
	s.OutputBytes += other.OutputBytes
	s.ElementsKept += other.ElementsKept
	s.CommentsRemoved += other.CommentsRemoved
	s.SelectorRemovals += other.SelectorRemovals
	s.EmptyElementRemovals += other.EmptyElementRemovals
	if other.PrunePasses > s.PrunePasses {
		s.PrunePasses = other.PrunePasses
	}
	for tag, n := range other.ElementsRemoved {
		s.ElementsRemoved[tag] += n
	}
	s.ParseDuration += other.ParseDuration
	s.TransformDuration += other.TransformDuration
	s.TotalDuration += other.TotalDuration
}

// String returns a human-readable summary of the stats.
func (s *Stats) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Size: %d -> %d bytes (%.1f%% reduction)\n",
		s.InputBytes, s.OutputBytes, s.ReductionPercent()))

	sb.WriteString(fmt.Sprintf("Elements: %d removed, %d kept\n",
		s.TotalElementsRemoved(), s.ElementsKept))

	if len(s.ElementsRemoved) > 0 {
		tags := make([]string, 0, len(s.ElementsRemoved))
		for tag := range s.ElementsRemoved {
			tags = append(tags, tag)
		}
		sort.Strings(tags)

		parts := make([]string, 0, len(tags))
		for _, tag := range tags {
			parts = append(parts, fmt.Sprintf("%s=%d", tag, s.ElementsRemoved[tag]))
		}
		sb.WriteString("Removed by tag: ")
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("\n")
	}

	if s.CommentsRemoved > 0 {
		sb.WriteString(fmt.Sprintf("Comments removed: %d\n", s.CommentsRemoved))
	}

	if s.EmptyElementRemovals > 0 {
		sb.WriteString(fmt.Sprintf("Empty elements pruned: %d (%d passes)\n",
			s.EmptyElementRemovals, s.PrunePasses))
	}

	sb.WriteString(fmt.Sprintf("Timing: parse=%v, transform=%v, total=%v\n",
		s.ParseDuration.Round(time.Millisecond),
		s.TransformDuration.Round(time.Millisecond),
		s.TotalDuration.Round(time.Millisecond)))

	return sb.String()
}

// Result contains the output of a sanitize operation.
type Result struct {
	// Content is the sanitized markup.
	Content string `json:"content"`

	// Stats contains metrics about what was done.
	Stats *Stats `json:"stats"`
}
