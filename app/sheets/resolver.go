// Package sheets resolves page labels to sheet image files and loads them
// for display and detection.
package sheets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Resolver maps a circle's page reference (e.g. "A5.1") to the image file
// for that sheet. Resolution is a pure function of the configured directory
// and template, not a lookup service: the same label always yields the same
// path.
type Resolver struct {
	dir      string
	template string
}

// NewResolver creates a resolver over the given sheets directory and path
// template. The template's {label} placeholder is replaced with the page
// label, e.g. "{label}.png" -> "A5.1.png".
func NewResolver(dir, template string) *Resolver {
	if template == "" {
		template = "{label}.png"
	}
	return &Resolver{dir: dir, template: template}
}

// TemplatePath returns the deterministic path for a label without checking
// the filesystem.
func (r *Resolver) TemplatePath(label string) string {
	name := strings.ReplaceAll(r.template, "{label}", label)
	return filepath.Join(r.dir, name)
}

// Resolve returns the image path for a page label. It tries the template
// path first, then falls back to a case-insensitive glob over common image
// extensions, since scanned sheet sets are rarely consistent about naming.
func (r *Resolver) Resolve(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", fmt.Errorf("empty page label")
	}

	direct := r.TemplatePath(label)
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}

	pattern := filepath.Join(r.dir, "**", caseFold(label)+".{png,jpg,jpeg,gif}")
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return "", fmt.Errorf("failed to scan sheets directory: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no sheet image found for page %q in %s", label, r.dir)
	}
	// Deterministic pick when several files match
	return matches[0], nil
}

// caseFold turns each letter in the label into a [aA]-style character class
// so globbing matches any filename casing.
func caseFold(label string) string {
	var b strings.Builder
	for _, r := range label {
		lower := strings.ToLower(string(r))
		upper := strings.ToUpper(string(r))
		if lower != upper {
			b.WriteString("[" + lower + upper + "]")
			continue
		}
		// Escape glob metacharacters that can appear in labels
		if strings.ContainsRune(`*?[]{}\`, r) {
			b.WriteString(`\` + string(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
