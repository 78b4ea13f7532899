package ai

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

// Prompt kinds that are not generation types
const (
	PromptRubric = "rubric"
	PromptChat   = "chat"
)

// PromptTemplate is one entry of the prompt catalog
type PromptTemplate struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
	JSON   bool   `yaml:"json"`
}

// PromptCatalog maps a prompt kind to its template
type PromptCatalog map[string]PromptTemplate

// LoadPrompts parses the embedded catalog
func LoadPrompts() (PromptCatalog, error) {
	return ParsePrompts(promptsYAML)
}

// ParsePrompts parses a YAML catalog and checks every entry has both messages
func ParsePrompts(data []byte) (PromptCatalog, error) {
	var catalog PromptCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}
	for kind, tmpl := range catalog {
		if strings.TrimSpace(tmpl.System) == "" || strings.TrimSpace(tmpl.User) == "" {
			return nil, fmt.Errorf("prompt %q must define system and user", kind)
		}
	}
	return catalog, nil
}

// Messages renders the system and user messages for kind
func (c PromptCatalog) Messages(kind, topic, content string) ([]ChatMessage, bool, error) {
	tmpl, ok := c[kind]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnsupportedType, kind)
	}
	system := strings.TrimSpace(strings.ReplaceAll(tmpl.System, "{content}", content))
	user := strings.ReplaceAll(tmpl.User, "{topic}", topic)
	return []ChatMessage{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}, tmpl.JSON, nil
}
