// Package prompt builds the text sent to the generation provider from a persona definition and
// the recent conversation.
package prompt

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"

	retenify "github.com/retenify/retenify"
	"github.com/retenify/retenify/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	defaultPersonaPath     = "prompts/persona.yaml"
	defaultContextMessages = 5
)

// Persona is a prompt definition. NewChat is used when the conversation has no earlier
// messages, ContinueChat otherwise.
type Persona struct {
	Persona         string `yaml:"persona"`
	ContextMessages int    `yaml:"contextMessages"`
	NewChat         string `yaml:"newChat"`
	ContinueChat    string `yaml:"continueChat"`

	newChat      *template.Template
	continueChat *template.Template
}

type templateData struct {
	Persona string
	Context []models.Message
	Message string
}

// Default loads the persona embedded in the binary.
func Default() (*Persona, error) {
	return Load(retenify.PromptFS, defaultPersonaPath)
}

// LoadFile loads a persona from a YAML file on disk.
func LoadFile(path string) (*Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona %s: %w", path, err)
	}
	return Parse(raw)
}

// Load reads and compiles the persona stored at name in fsys.
func Load(fsys fs.FS, name string) (*Persona, error) {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona %s: %w", name, err)
	}
	return Parse(raw)
}

// Parse compiles a persona from its YAML form.
func Parse(raw []byte) (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode persona: %w", err)
	}
	if p.NewChat == "" || p.ContinueChat == "" {
		return nil, fmt.Errorf("persona requires both newChat and continueChat templates")
	}
	if p.ContextMessages <= 0 {
		p.ContextMessages = defaultContextMessages
	}

	var err error
	if p.newChat, err = template.New("newChat").Parse(p.NewChat); err != nil {
		return nil, fmt.Errorf("failed to parse newChat template: %w", err)
	}
	if p.continueChat, err = template.New("continueChat").Parse(p.ContinueChat); err != nil {
		return nil, fmt.Errorf("failed to parse continueChat template: %w", err)
	}

	return &p, nil
}

// Build renders the prompt for message, quoting up to ContextMessages of the most recent
// entries of history as context. history must not include message itself.
func (p *Persona) Build(history []models.Message, message string) (string, error) {
	tmpl := p.newChat
	if len(history) > 0 {
		tmpl = p.continueChat
	}
	if len(history) > p.ContextMessages {
		history = history[len(history)-p.ContextMessages:]
	}

	var sb strings.Builder
	err := tmpl.Execute(&sb, templateData{
		Persona: p.Persona,
		Context: history,
		Message: message,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	return sb.String(), nil
}
