// Package template renders message and request templates against execution variables.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Data builds the template root: variables are reachable as .vars and .variables.
func Data(variables map[string]any) map[string]any {
	return map[string]any{
		"variables": variables,
		"vars":      variables,
	}
}

// RenderString renders templateStr and returns the text as is.
func RenderString(templateStr string, variables map[string]any) (string, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := template.
		New("content").
		Option("missingkey=zero").
		Funcs(funcs()).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, Data(variables))
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Render renders templateStr and coerces the result to JSON, number or bool
// when it looks like one.
func Render(templateStr string, variables map[string]any) (any, error) {
	result, err := RenderString(templateStr, variables)
	if err != nil {
		return nil, err
	}

	result = strings.TrimSpace(result)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderValue walks maps and slices rendering every string leaf with Render.
func RenderValue(value any, variables map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return v, nil
		}

		return Render(v, variables)
	case map[string]any:
		rendered := make(map[string]any, len(v))

		for key, item := range v {
			out, err := RenderValue(item, variables)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			rendered[key] = out
		}

		return rendered, nil
	case []any:
		rendered := make([]any, len(v))

		for i, item := range v {
			out, err := RenderValue(item, variables)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			rendered[i] = out
		}

		return rendered, nil
	default:
		return v, nil
	}
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"default": func(fallback, value any) any {
			if value == nil || value == "" {
				return fallback
			}

			return value
		},
		"json": func(value any) (string, error) {
			data, err := json.Marshal(value)

			return string(data), err
		},
	}
}
