package runner

import (
	"fmt"
	"strings"
)

// Flavour selects the concurrency model a payload runs under. The zero value
// is no flavour, so configuration can tell "unset" from an explicit choice.
type Flavour int

const (
	// Thread runs every service payload on its own OS thread.
	Thread Flavour = iota + 1
	// LoopA runs payloads as cooperative tasks on the first event loop.
	LoopA
	// LoopB runs payloads as cooperative tasks on the second, independent event loop.
	LoopB
)

var flavourNames = map[Flavour]string{
	Thread: "thread",
	LoopA:  "loop-a",
	LoopB:  "loop-b",
}

// Flavours lists every supported flavour in a stable order.
func Flavours() []Flavour {
	return []Flavour{Thread, LoopA, LoopB}
}

// ParseFlavour resolves the textual name of a flavour.
func ParseFlavour(s string) (Flavour, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for f, n := range flavourNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFlavour, s)
}

func (f Flavour) String() string {
	if n, ok := flavourNames[f]; ok {
		return n
	}
	return fmt.Sprintf("flavour(%d)", int(f))
}

// Valid reports whether f is one of the supported flavours.
func (f Flavour) Valid() bool {
	_, ok := flavourNames[f]
	return ok
}

// Cooperative reports whether f is backed by an event loop.
func (f Flavour) Cooperative() bool {
	return f == LoopA || f == LoopB
}

// MarshalText implements encoding.TextMarshaler.
func (f Flavour) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFlavour, int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Flavour) UnmarshalText(text []byte) error {
	parsed, err := ParseFlavour(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
