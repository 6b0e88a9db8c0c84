package validators

import (
	"embed"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Definition describes a prompt-driven validator.
type Definition struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Focus        []string `yaml:"focus"`
	Instructions string   `yaml:"instructions"`
}

// Prompt renders the definition as instructions for the reviewer.
func (d Definition) Prompt() string {
	var b strings.Builder
	if d.Description != "" {
		fmt.Fprintf(&b, "Check: %s\n", strings.TrimSpace(d.Description))
	}
	if len(d.Focus) > 0 {
		b.WriteString("Focus on:\n")
		for _, f := range d.Focus {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if d.Instructions != "" {
		b.WriteString(strings.TrimSpace(d.Instructions))
		b.WriteString("\n")
	}
	return b.String()
}

func (d Definition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("validator has no name")
	}
	if len(d.Focus) == 0 && strings.TrimSpace(d.Instructions) == "" {
		return fmt.Errorf("validator %q has neither focus nor instructions", d.Name)
	}
	return nil
}

// LoadBuiltin returns the embedded validator definitions sorted by name.
func LoadBuiltin() ([]Definition, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, err
	}
	var defs []Definition
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := builtinFS.ReadFile(path.Join("builtin", e.Name()))
		if err != nil {
			return nil, err
		}
		var d Definition
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("validators.LoadBuiltin: parse %s: %w", e.Name(), err)
		}
		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("validators.LoadBuiltin: %s: %w", e.Name(), err)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

type definitionFile struct {
	Validators []Definition `yaml:"validators"`
}

// LoadFile reads user validator definitions from a YAML file of the form
//
//	validators:
//	  - name: ...
//	    focus: [...]
func LoadFile(p string) ([]Definition, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading validators file: %w", err)
	}
	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing validators file %s: %w", p, err)
	}
	for _, d := range f.Validators {
		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("validators file %s: %w", p, err)
		}
	}
	return f.Validators, nil
}

// Merge returns base with extra applied: definitions with a known name replace
// the original in place, new names are appended.
func Merge(base, extra []Definition) []Definition {
	out := append([]Definition(nil), base...)
	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.Name] = i
	}
	for _, d := range extra {
		if i, ok := index[d.Name]; ok {
			out[i] = d
			continue
		}
		index[d.Name] = len(out)
		out = append(out, d)
	}
	return out
}
