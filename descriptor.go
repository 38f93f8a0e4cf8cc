package cmdgate

import (
	"regexp"
	"strings"
	"sync"
)

// ParamType is the semantic scalar type of a parameter. Values always arrive
// as text; the type decides which texts are admissible.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

func (t ParamType) known() bool {
	switch t {
	case TypeString, TypeInteger, TypeBoolean:
		return true
	}
	return false
}

// ParameterDescriptor declares one parameter of a command.
type ParameterDescriptor struct {
	Name     string
	Type     ParamType
	Required bool

	// Validation is the pattern as written in the catalogue.
	Validation string

	compileOnce sync.Once
	pattern     *regexp.Regexp // Validation anchored to the whole value
	patternErr  error
}

// compiled returns the anchored pattern. Descriptors built by Load arrive
// compiled; hand-built ones are compiled on first use.
func (p *ParameterDescriptor) compiled() (*regexp.Regexp, error) {
	p.compileOnce.Do(func() {
		if p.pattern == nil {
			p.pattern, p.patternErr = anchor(p.Validation)
		}
	})
	return p.pattern, p.patternErr
}

// Matches reports whether value conforms to the validation pattern in full.
// A pattern that does not compile matches nothing.
func (p *ParameterDescriptor) Matches(value string) bool {
	re, err := p.compiled()
	return err == nil && re.MatchString(value)
}

// anchor makes pattern match only complete values, whether or not the
// author wrote ^ and $ themselves.
func anchor(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + pattern + `)$`)
}

// Binding is the execution strategy of a command: either NativeBinding or
// ProcessBinding, never both.
type Binding interface {
	binding()
	String() string
}

// NativeBinding routes a command to an in-process routine registered under
// Function.
type NativeBinding struct {
	Function string
}

func (NativeBinding) binding() {}

func (b NativeBinding) String() string { return "function " + b.Function }

// ProcessBinding routes a command to an external executable. Validated
// values are appended after Prefix, one argv element each.
type ProcessBinding struct {
	Executable string
	Prefix     []string
}

func (ProcessBinding) binding() {}

func (b ProcessBinding) String() string {
	return "command " + strings.Join(append([]string{b.Executable}, b.Prefix...), " ")
}

// CommandDescriptor is the static metadata of one command.
type CommandDescriptor struct {
	Name        string
	Description string
	Binding     Binding
	Parameters  []*ParameterDescriptor
}

// Parameter returns the declared parameter called name.
func (c *CommandDescriptor) Parameter(name string) (*ParameterDescriptor, bool) {
	for _, p := range c.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}
