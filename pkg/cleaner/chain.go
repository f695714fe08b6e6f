package cleaner

import (
	"fmt"
	"strings"
	"time"
)

// ChainCleaner runs cleaners in order, feeding each the previous output.
type ChainCleaner struct {
	cleaners []Cleaner
}

// Step records one stage of a traced chain run.
type Step struct {
	Name        string        `json:"name"`
	InputBytes  int           `json:"input_bytes"`
	OutputBytes int           `json:"output_bytes"`
	Duration    time.Duration `json:"duration_ns"`
}

// NewChain creates a chain of cleaners applied in the order given.
//
//	chain := cleaner.NewChain(
//	    sanitize.New(sanitize.PresetConservative()),
//	    xhtml.New(),
//	)
func NewChain(cleaners ...Cleaner) *ChainCleaner {
	return &ChainCleaner{
		cleaners: cleaners,
	}
}

// Clean applies all cleaners in sequence.
func (c *ChainCleaner) Clean(content string) (string, error) {
	out, _, err := c.CleanTrace(content)
	return out, err
}

// CleanTrace is Clean that also reports size and duration per stage. On
// failure the steps completed so far are returned with the error, which is
// prefixed with the failing cleaner's name.
func (c *ChainCleaner) CleanTrace(content string) (string, []Step, error) {
	steps := make([]Step, 0, len(c.cleaners))
	for _, cl := range c.cleaners {
		start := time.Now()
		out, err := cl.Clean(content)
		if err != nil {
			return "", steps, fmt.Errorf("%s: %w", cl.Name(), err)
		}
		steps = append(steps, Step{
			Name:        cl.Name(),
			InputBytes:  len(content),
			OutputBytes: len(out),
			Duration:    time.Since(start),
		})
		content = out
	}
	return content, steps, nil
}

// Name returns the names of all chained cleaners.
func (c *ChainCleaner) Name() string {
	names := make([]string, len(c.cleaners))
	for i, cl := range c.cleaners {
		names[i] = cl.Name()
	}
	return "chain(" + strings.Join(names, "->") + ")"
}
