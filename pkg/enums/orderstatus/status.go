package orderstatus

import (
	"fmt"
	"strings"
)

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

func (s Status) Label() string {
	parts := strings.Split(s.Name, "-")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

// Rank orders statuses along the kitchen lifecycle. Unknown statuses rank -1.
func (s Status) Rank() int {
	for i, st := range All {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Status) IsZero() bool {
	return s.Name == ""
}

func (s Status) IsTerminal() bool {
	return s == Statuses.Completed
}

type Enum struct {
	Preparing Status
	Ready     Status
	Completed Status
}

var Statuses = Enum{
	Preparing: Status{Name: "preparing"},
	Ready:     Status{Name: "ready"},
	Completed: Status{Name: "completed"},
}

// All lists the statuses in lifecycle order.
var All = []Status{
	Statuses.Preparing,
	Statuses.Ready,
	Statuses.Completed,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.Name), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	if name == "" {
		*s = Status{}
		return nil
	}
	found := ByName(name)
	if found == nil {
		return fmt.Errorf("unknown order status %q", name)
	}
	*s = *found
	return nil
}
