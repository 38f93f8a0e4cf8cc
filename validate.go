package cmdgate

import (
	"strconv"
)

// Argument is a parameter value after validation. Present is false when an
// optional parameter was omitted; Value is then empty.
type Argument struct {
	Name    string
	Value   string
	Present bool
}

// Args holds validated arguments in parameter declaration order.
type Args []Argument

// Lookup returns the value of name and whether the caller supplied it.
func (args Args) Lookup(name string) (string, bool) {
	for _, a := range args {
		if a.Name == name {
			return a.Value, a.Present
		}
	}
	return "", false
}

// Get returns the value of name, or "" when it was omitted.
func (args Args) Get(name string) string {
	v, _ := args.Lookup(name)
	return v
}

// Map returns the supplied arguments keyed by name.
func (args Args) Map() map[string]string {
	m := make(map[string]string, len(args))
	for _, a := range args {
		if a.Present {
			m[a.Name] = a.Value
		}
	}
	return m
}

// Validate checks one raw value against its descriptor. present is false
// when the caller did not supply the parameter at all.
func Validate(p *ParameterDescriptor, raw string, present bool) (Argument, error) {
	if !present {
		if p.Required {
			return Argument{}, &Error{Kind: ErrMissingParameter, Parameter: p.Name}
		}
		return Argument{Name: p.Name}, nil
	}

	if !admissible(p.Type, raw) {
		return Argument{}, &Error{Kind: ErrTypeMismatch, Parameter: p.Name, Type: p.Type}
	}

	if _, err := p.compiled(); err != nil {
		return Argument{}, &Error{Kind: ErrMalformedCatalogue, Parameter: p.Name, Pattern: p.Validation, Err: err}
	}
	if !p.Matches(raw) {
		return Argument{}, &Error{Kind: ErrValidationFailed, Parameter: p.Name, Pattern: p.Validation}
	}

	return Argument{Name: p.Name, Value: raw, Present: true}, nil
}

func admissible(t ParamType, raw string) bool {
	switch t {
	case TypeString, "":
		return true
	case TypeInteger:
		_, err := strconv.ParseInt(raw, 10, 64)
		return err == nil
	case TypeBoolean:
		return raw == "true" || raw == "false"
	}
	return false
}
