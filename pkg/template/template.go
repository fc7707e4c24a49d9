// Package template renders email subject and body templates with contact
// variables before dispatch.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/flowlane/flowlane/pkg/contact"
)

// RenderForContact renders a template string against the contact snapshot.
// Variables resolve under .contact (custom fields shadow standard
// attributes, same fallback order as the snapshot accessor), plus
// .enrollment for trigger metadata.
func RenderForContact(input string, snapshot *contact.Snapshot, metadata map[string]any) (string, error) {
	data := map[string]any{
		"contact":    snapshot.TemplateData(),
		"enrollment": metadata,
	}

	return Render(input, data)
}

// Render renders a template string against arbitrary data.
func Render(input string, data any) (string, error) {
	tmpl, err := template.
		New("content").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
		}).Parse(input)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", input, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", input, err)
	}

	// Unresolved variables render as "<no value>"; scrub them.
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}
