// Package template renders message bodies and prompts against a contact's run data.
package template

import (
	"crypto/rand"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/courier/pkg/models"
)

// Data builds the template root: .contact, .variables, .vars, .outputs and .execution.
func Data(
	executionID, flowID string,
	contact *models.Contact,
	variables map[string]any,
	outputs map[string]map[string]any,
) map[string]any {
	contactData := map[string]any{}
	if contact != nil {
		contactData = map[string]any{
			"id":         contact.ID,
			"name":       contact.Name,
			"phone":      contact.Phone,
			"attributes": contact.Attributes,
		}
	}

	return map[string]any{
		"contact":   contactData,
		"variables": variables,
		"vars":      variables,
		"outputs":   outputs,
		"execution": map[string]any{
			"id":      executionID,
			"flow_id": flowID,
		},
	}
}

// Text renders templateStr and returns the trimmed result. Strings without
// actions are returned unchanged.
func Text(templateStr string, data any) (string, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := template.
		New("text").
		Option("missingkey=zero").
		Funcs(funcs()).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.TrimSpace(strings.ReplaceAll(buf.String(), "<no value>", "")), nil
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"rand": func(max int) int {
			if max <= 0 {
				return 0
			}

			num := make([]byte, 1)

			_, err := rand.Read(num)
			if err != nil {
				return 0
			}

			return int(num[0]) % max
		},
		"default": func(fallback, value any) any {
			if value == nil || value == "" {
				return fallback
			}

			return value
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}
}
