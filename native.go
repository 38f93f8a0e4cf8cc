package cmdgate

import (
	"context"
	"sort"
)

// NativeFunc is an in-process routine bound to a command. It receives the
// validated arguments in declaration order; omitted optional parameters are
// present in args with Present set to false.
type NativeFunc func(ctx context.Context, args Args) (string, error)

// Natives maps native routine identifiers, as named by a catalogue's
// function key, to their implementations.
type Natives map[string]NativeFunc

func NewNatives() Natives { return Natives{} }

func (natives Natives) Register(name string, fn NativeFunc) Natives {
	natives[name] = fn
	return natives
}

func (natives Natives) Names() []string {
	names := make([]string, 0, len(natives))
	for name := range natives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
