// Package prompt renders templates against test variables into conversations.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/promptgrid/promptgrid/internal/models"
)

// Formatter turns a template plus variables into an ordered conversation.
type Formatter struct{}

// NewFormatter creates a Formatter.
func NewFormatter() *Formatter { return &Formatter{} }

// Render resolves template expressions in the given string using Go's
// text/template syntax: {{.varname}}. Returns the input unchanged if it
// contains no template delimiters.
func Render(tmpl string, vars map[string]any) (string, error) {
	// Fast path: no template delimiters means no work to do.
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("prompt: parse: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, templateData(vars)); err != nil {
		return "", fmt.Errorf("prompt: render: %w", err)
	}

	return buf.String(), nil
}

// templateData strips non-text variables so templates only see strings and
// scalars. File parts are attached to the conversation separately.
func templateData(vars map[string]any) map[string]any {
	data := make(map[string]any, len(vars))
	for k, v := range vars {
		switch v.(type) {
		case models.ContentPart, *models.ContentPart:
			continue
		default:
			data[k] = v
		}
	}
	return data
}

// Format renders the template and builds a conversation. A rendered result
// that parses as a YAML list of {role, content} maps becomes multi-turn;
// anything else becomes a single user turn. Variables holding file parts are
// attached to the final user turn.
func (f *Formatter) Format(tmpl string, vars map[string]any) (models.Conversation, error) {
	rendered, err := Render(tmpl, vars)
	if err != nil {
		return nil, err
	}

	conv, ok := parseTurns(rendered)
	if !ok {
		conv = models.Conversation{models.UserTurn(rendered)}
	}

	attachFileParts(conv, vars)
	return conv, nil
}

// parseTurns attempts to interpret the rendered template as an explicit turn
// list.
func parseTurns(rendered string) (models.Conversation, bool) {
	trimmed := strings.TrimSpace(rendered)
	if !strings.HasPrefix(trimmed, "- ") || !strings.Contains(trimmed, "role:") {
		return nil, false
	}

	var raw []struct {
		Role    string `yaml:"role"`
		Content string `yaml:"content"`
	}
	if err := yaml.Unmarshal([]byte(trimmed), &raw); err != nil || len(raw) == 0 {
		return nil, false
	}

	conv := make(models.Conversation, 0, len(raw))
	for _, t := range raw {
		role := models.Role(t.Role)
		switch role {
		case models.RoleSystem, models.RoleDeveloper, models.RoleUser, models.RoleAssistant:
		default:
			return nil, false
		}
		if t.Content == "" {
			return nil, false
		}
		conv = append(conv, models.Turn{Role: role, Parts: []models.ContentPart{models.TextPart(t.Content)}})
	}
	return conv, true
}

// attachFileParts appends file-typed variables to the last user turn.
func attachFileParts(conv models.Conversation, vars map[string]any) {
	last := -1
	for i := range conv {
		if conv[i].Role == models.RoleUser {
			last = i
		}
	}
	if last < 0 {
		return
	}

	for _, v := range vars {
		switch part := v.(type) {
		case models.ContentPart:
			if part.Type == models.PartFile {
				conv[last].Parts = append(conv[last].Parts, part)
			}
		case *models.ContentPart:
			if part != nil && part.Type == models.PartFile {
				conv[last].Parts = append(conv[last].Parts, *part)
			}
		}
	}
}
