package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

var templateFuncs = template.FuncMap{
	"default": func(defaultVal any, val any) any {
		if val == nil || val == "" {
			return defaultVal
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
	"bullets": func(items []string) string {
		var b strings.Builder
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it)
		}
		return strings.TrimSuffix(b.String(), "\n")
	},
}

// RenderTemplate renders a prompt template against data using text/template.
// Prompts are plain text, so nothing is HTML-escaped.
func RenderTemplate(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := template.New("prompt").Funcs(templateFuncs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// MustParse validates a template at package init time.
func MustParse(name, text string) string {
	template.Must(template.New(name).Funcs(templateFuncs).Parse(text))
	return text
}
