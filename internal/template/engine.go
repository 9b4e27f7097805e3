package template

import (
	"fmt"
	"regexp"
)

var (
	// bracePattern matches variables like {{ name }}.
	bracePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	// anglePattern matches placeholders like <<PROJECT_DIR>>.
	anglePattern = regexp.MustCompile(`<<([A-Z_][A-Z0-9_]*)>>`)
)

// Engine substitutes named placeholders in text.
type Engine struct {
	pattern *regexp.Regexp
}

// New returns an engine for {{ name }} variables, used for launch commands and
// site install commands.
func New() *Engine {
	return &Engine{pattern: bracePattern}
}

// NewAngle returns an engine for <<NAME>> placeholders, used for web server
// virtual host templates.
func NewAngle() *Engine {
	return &Engine{pattern: anglePattern}
}

// MissingVariableError reports a placeholder with no value in the context.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("template variable '%s' not found in context", e.Name)
}

// Replace substitutes every placeholder in text with its value from vars in
// a single pass, so values are never expanded again. Every placeholder must
// be present in vars.
func (e *Engine) Replace(text string, vars map[string]string) (string, error) {
	var missing *MissingVariableError
	result := e.pattern.ReplaceAllStringFunc(text, func(full string) string {
		if missing != nil {
			return full
		}
		name := e.pattern.FindStringSubmatch(full)[1]
		value, ok := vars[name]
		if !ok {
			missing = &MissingVariableError{Name: name}
			return full
		}
		return value
	})
	if missing != nil {
		return "", missing
	}
	return result, nil
}

// Variables lists the distinct placeholder names in text, in order of first
// appearance.
func (e *Engine) Variables(text string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, match := range e.pattern.FindAllStringSubmatch(text, -1) {
		if !seen[match[1]] {
			names = append(names, match[1])
			seen[match[1]] = true
		}
	}
	return names
}

// MergeContexts merges contexts left to right; later values win.
func MergeContexts(contexts ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, c := range contexts {
		for k, v := range c {
			merged[k] = v
		}
	}
	return merged
}
