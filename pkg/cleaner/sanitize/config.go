// Package sanitize provides the markup sanitizer that runs on every HTML file
// produced by the extraction tool.
//
// The sanitizer removes comments, disallowed elements and empty elements. Each
// pass is idempotent, and so is the sanitizer as a whole.
package sanitize

// Config defines the sanitizer options.
type Config struct {
	// StripComments removes comment nodes.
	StripComments bool `json:"strip_comments" yaml:"strip_comments" mapstructure:"strip_comments"`

	// StripScripts removes <script> elements and their contents.
	StripScripts bool `json:"strip_scripts" yaml:"strip_scripts" mapstructure:"strip_scripts"`

	// StripStyles removes <style> elements and their contents.
	StripStyles bool `json:"strip_styles" yaml:"strip_styles" mapstructure:"strip_styles"`

	// StripEmptyElements prunes elements without text or child elements,
	// repeating until nothing else qualifies.
	StripEmptyElements bool `json:"strip_empty_elements" yaml:"strip_empty_elements" mapstructure:"strip_empty_elements"`

	// PreserveVoidElements exempts void elements (br, hr, img, ...) from empty
	// pruning. They have no content by definition.
	PreserveVoidElements bool `json:"preserve_void_elements" yaml:"preserve_void_elements" mapstructure:"preserve_void_elements"`

	// RemoveSelectors is a list of CSS selectors to always remove.
	RemoveSelectors []string `json:"remove_selectors" yaml:"remove_selectors" mapstructure:"remove_selectors"`

	// KeepSelectors is a list of CSS selectors exempt from selector removal
	// and empty pruning.
	KeepSelectors []string `json:"keep_selectors" yaml:"keep_selectors" mapstructure:"keep_selectors"`
}

// DefaultConfig returns the configuration used by the conversion pipeline:
// comments, scripts, styles and empty elements are all removed.
func DefaultConfig() *Config {
	return &Config{
		StripComments:      true,
		StripScripts:       true,
		StripStyles:        true,
		StripEmptyElements: true,
	}
}

// PresetConservative keeps void elements such as images and line breaks
// that would otherwise be pruned as empty.
func PresetConservative() *Config {
	cfg := DefaultConfig()
	cfg.PreserveVoidElements = true
	return cfg
}

// Preset returns a named configuration. Unknown names return nil.
func Preset(name string) *Config {
	switch name {
	case "", "default":
		return DefaultConfig()
	case "conservative":
		return PresetConservative()
	default:
		return nil
	}
}

// voidElements never have content.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// structuralElements are synthesized by the parser and never pruned.
var structuralElements = map[string]bool{
	"html": true, "head": true, "body": true,
}
