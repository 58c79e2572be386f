// Package menu holds the embedded tool menu: each entry either mounts a chat
// tool directly (kind + greeting) or resolves through the submenu API.
package menu

import (
	_ "embed"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/easybali/travelchat/pkg/chat"
)

//go:embed tools.yaml
var toolsYAML []byte

// Tool is one icon-menu entry.
type Tool struct {
	Name     string    `yaml:"name"`
	Icon     string    `yaml:"icon"`
	Kind     chat.Kind `yaml:"kind,omitempty"`
	Greeting string    `yaml:"greeting,omitempty"`
	Submenu  string    `yaml:"submenu,omitempty"`
}

type menuFile struct {
	Tools []Tool `yaml:"tools"`
}

// Load parses the embedded menu definition.
func Load() ([]Tool, error) {
	var f menuFile
	if err := yaml.Unmarshal(toolsYAML, &f); err != nil {
		return nil, errors.Wrap(err, "parse tools.yaml")
	}
	return f.Tools, nil
}

// Lookup finds a tool by display name, icon slug or conversation kind,
// case-insensitively.
func Lookup(name string) (Tool, bool) {
	tools, err := Load()
	if err != nil {
		return Tool{}, false
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, t := range tools {
		if strings.ToLower(t.Name) == needle ||
			strings.ToLower(t.Icon) == needle ||
			(t.Kind != "" && strings.ToLower(string(t.Kind)) == needle) {
			return t, true
		}
	}
	return Tool{}, false
}
