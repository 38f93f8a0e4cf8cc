package cmdgate

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"
)

//go:embed commands.yaml
var defaultCatalogue []byte

// Registry is the immutable, typed form of a command catalogue. It is safe
// for concurrent use once loaded.
type Registry struct {
	commands map[string]*CommandDescriptor
	order    []*CommandDescriptor
}

type catalogueParameter struct {
	Name       string  `yaml:"name"`
	Type       string  `yaml:"type"`
	Validation *string `yaml:"validation"`
	Required   *bool   `yaml:"required"`
}

type catalogueCommand struct {
	Description string               `yaml:"description"`
	Function    string               `yaml:"function"`
	Command     string               `yaml:"command"`
	Parameters  []catalogueParameter `yaml:"parameters"`
}

// Default returns the registry built from the catalogue shipped with the
// binary.
func Default() (*Registry, error) {
	return Load(defaultCatalogue)
}

// DefaultCatalogue returns the YAML source of the shipped catalogue.
func DefaultCatalogue() []byte {
	return append([]byte(nil), defaultCatalogue...)
}

// LoadFile reads and parses the catalogue at path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: ErrMalformedCatalogue, Message: fmt.Sprintf("reading %s", path), Err: err}
	}
	return Load(data)
}

// Load parses a YAML catalogue. Every pattern is compiled here, so a
// registry that loads without error never fails on a pattern later.
func Load(data []byte) (*Registry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Kind: ErrMalformedCatalogue, Message: "parsing YAML", Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, malformed("", "top level must be a mapping with a commands key")
	}

	var commands *yaml.Node
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "commands" {
			commands = root.Content[i+1]
		}
	}
	if commands == nil || commands.Kind != yaml.MappingNode {
		return nil, malformed("", "commands must be a mapping of command name to definition")
	}

	reg := &Registry{commands: map[string]*CommandDescriptor{}}
	for i := 0; i+1 < len(commands.Content); i += 2 {
		keyNode, valueNode := commands.Content[i], commands.Content[i+1]
		name := keyNode.Value
		if name == "" {
			return nil, malformed("", "line %d: empty command name", keyNode.Line)
		}
		if _, dup := reg.commands[name]; dup {
			return nil, malformed(name, "line %d: command defined more than once", keyNode.Line)
		}

		var raw catalogueCommand
		if err := valueNode.Decode(&raw); err != nil {
			return nil, &Error{Kind: ErrMalformedCatalogue, Command: name, Err: err}
		}
		cmd, err := buildCommand(name, raw)
		if err != nil {
			return nil, err
		}
		reg.commands[name] = cmd
		reg.order = append(reg.order, cmd)
	}

	return reg, nil
}

func buildCommand(name string, raw catalogueCommand) (*CommandDescriptor, error) {
	cmd := &CommandDescriptor{Name: name, Description: raw.Description}

	switch {
	case raw.Function != "" && raw.Command != "":
		return nil, malformed(name, "function and command are mutually exclusive")
	case raw.Function != "":
		cmd.Binding = NativeBinding{Function: raw.Function}
	case raw.Command != "":
		parser := shellwords.NewParser()
		parser.ParseEnv = false
		parser.ParseBacktick = false
		words, err := parser.Parse(raw.Command)
		if err != nil {
			return nil, &Error{Kind: ErrMalformedCatalogue, Command: name, Message: "splitting command", Err: err}
		}
		if len(words) == 0 {
			return nil, malformed(name, "command is empty")
		}
		cmd.Binding = ProcessBinding{Executable: words[0], Prefix: words[1:]}
	default:
		return nil, malformed(name, "needs either function or command")
	}

	seen := map[string]bool{}
	for _, rp := range raw.Parameters {
		if rp.Name == "" {
			return nil, malformed(name, "parameter without a name")
		}
		if seen[rp.Name] {
			return nil, &Error{Kind: ErrMalformedCatalogue, Command: name, Parameter: rp.Name, Message: "declared more than once"}
		}
		seen[rp.Name] = true

		p := &ParameterDescriptor{Name: rp.Name, Type: ParamType(rp.Type), Required: true}
		if p.Type == "" {
			p.Type = TypeString
		}
		if !p.Type.known() {
			return nil, &Error{Kind: ErrMalformedCatalogue, Command: name, Parameter: rp.Name, Message: fmt.Sprintf("unknown type %q", rp.Type)}
		}
		if rp.Required != nil {
			p.Required = *rp.Required
		}
		if rp.Validation == nil || *rp.Validation == "" {
			return nil, &Error{Kind: ErrMalformedCatalogue, Command: name, Parameter: rp.Name, Message: "no validation pattern"}
		}
		p.Validation = *rp.Validation
		re, err := anchor(p.Validation)
		if err != nil {
			return nil, &Error{Kind: ErrMalformedCatalogue, Command: name, Parameter: rp.Name, Pattern: p.Validation, Err: err}
		}
		p.pattern = re
		cmd.Parameters = append(cmd.Parameters, p)
	}

	return cmd, nil
}

// Lookup returns the command called name. Names are case-sensitive.
func (r *Registry) Lookup(name string) (*CommandDescriptor, bool) {
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Commands returns all commands in catalogue order.
func (r *Registry) Commands() []*CommandDescriptor {
	return append([]*CommandDescriptor(nil), r.order...)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.order))
	for _, cmd := range r.order {
		names = append(names, cmd.Name)
	}
	return names
}
