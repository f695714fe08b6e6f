package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/pdf2xhtml/pkg/cleaner"
	"github.com/jmylchreest/pdf2xhtml/pkg/cleaner/sanitize"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [file.html]",
	Short: "Sanitize (and optionally convert) a single HTML file",
	Long: `Clean runs the markup sanitizer over one HTML document, read from a file or
stdin, and reports what was removed. With --xhtml the result is also
converted to XHTML. Useful for tuning sanitizer settings against output of
the extraction tool.

Examples:
  pdf2xhtml clean page.html
  pdf2xhtml clean --preset conservative --xhtml -o page.xhtml page.html
  pdf2xhtml clean --remove "nav,.footer" --stats-only page.html
  pdf2xhtml clean --xhtml --trace page.html
  pdf2xhtml clean --no-sanitize --xhtml page.html
  cat page.html | pdf2xhtml clean --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	flags := cleanCmd.Flags()

	flags.String("preset", "default", "sanitizer preset: default, conservative")
	flags.String("remove", "", "comma-separated selectors to remove")
	flags.String("keep", "", "comma-separated selectors to keep")
	flags.Bool("xhtml", false, "convert the sanitized document to XHTML")
	flags.Bool("no-sanitize", false, "skip sanitizing (use with --xhtml to convert as is)")
	flags.StringP("output", "o", "", "write the result to a file")
	flags.Bool("stats-only", false, "only print stats")
	flags.Bool("json", false, "print stats as JSON")
	flags.Bool("trace", false, "print size and duration of each stage")
}

type cleanStats struct {
	Source    string          `json:"source"`
	Converted bool            `json:"converted"`
	Stats     *sanitize.Stats `json:"stats,omitempty"`
	Steps     []cleaner.Step  `json:"steps,omitempty"`
}

// statsSanitizer keeps the stats of the last Clean call so the sanitizer can
// run inside a chain.
type statsSanitizer struct {
	*sanitize.Sanitizer
	stats *sanitize.Stats
}

func (s *statsSanitizer) Clean(input string) (string, error) {
	result, err := s.CleanWithStats(input)
	if err != nil {
		return "", err
	}
	s.stats = result.Stats
	return result.Content, nil
}

func runClean(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	var (
		data   []byte
		source string
		err    error
	)
	if len(args) == 1 {
		source = args[0]
		data, err = os.ReadFile(source)
	} else {
		source = "stdin"
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", source, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty input")
	}

	presetName, _ := flags.GetString("preset")
	cfg := sanitize.Preset(presetName)
	if cfg == nil {
		return fmt.Errorf("unknown preset %q", presetName)
	}
	removeStr, _ := flags.GetString("remove")
	keepStr, _ := flags.GetString("keep")
	cfg.RemoveSelectors = append(cfg.RemoveSelectors, splitSelectors(removeStr)...)
	cfg.KeepSelectors = append(cfg.KeepSelectors, splitSelectors(keepStr)...)

	san := &statsSanitizer{Sanitizer: sanitize.New(cfg)}
	var first cleaner.Cleaner = san
	if noSanitize, _ := flags.GetBool("no-sanitize"); noSanitize {
		first = cleaner.NewNoop()
	}
	chain := cleaner.NewChain(first)
	toXHTML, _ := flags.GetBool("xhtml")
	if toXHTML {
		chain = cleaner.NewDocumentChain(first)
	}

	content, steps, err := chain.CleanTrace(string(data))
	if err != nil {
		return err
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	statsOnly, _ := flags.GetBool("stats-only")
	jsonStats, _ := flags.GetBool("json")
	trace, _ := flags.GetBool("trace")
	stderr := cmd.ErrOrStderr()

	if !quiet {
		if jsonStats {
			stats := cleanStats{Source: source, Converted: toXHTML, Stats: san.stats}
			if trace {
				stats.Steps = steps
			}
			enc := json.NewEncoder(stderr)
			enc.SetIndent("", "  ")
			if err := enc.Encode(stats); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(stderr, "Source: %s (%s -> %s)\n", source,
				humanize.Bytes(uint64(len(data))),
				humanize.Bytes(uint64(len(content))))
			if san.stats != nil {
				fmt.Fprint(stderr, san.stats.String())
			}
			if trace {
				for _, st := range steps {
					fmt.Fprintf(stderr, "  %-10s %s -> %s in %s\n", st.Name,
						humanize.Bytes(uint64(st.InputBytes)),
						humanize.Bytes(uint64(st.OutputBytes)),
						st.Duration)
				}
			}
		}
	}

	if statsOnly {
		return nil
	}

	if outPath, _ := flags.GetString("output"); outPath != "" {
		if err := os.WriteFile(outPath, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", outPath, err)
		}
		if !quiet {
			fmt.Fprintf(stderr, "Written to %s\n", outPath)
		}
		return nil
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), content)
	return err
}

func splitSelectors(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
