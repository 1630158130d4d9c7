package extract

import (
	"fmt"
	"strings"
)

// Kind is the type of a dispatch document.
type Kind int

const (
	KindUnknown Kind = iota
	InitialDispatch
	StatusUpdate
	ClosingProtocol
	ScannedReport
)

var kindNames = map[Kind]string{
	InitialDispatch: "initial-dispatch",
	StatusUpdate:    "status-update",
	ClosingProtocol: "closing-protocol",
	ScannedReport:   "scanned-report",
}

// String returns the kebab-case name used in layout files and logs.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for kind, n := range kindNames {
		if n == name {
			return kind, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown document kind %q", name)
}

// MarshalText lets kinds act as YAML and JSON map keys.
func (k Kind) MarshalText() ([]byte, error) {
	if k == KindUnknown {
		return nil, fmt.Errorf("cannot marshal unknown document kind")
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	kind, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}
