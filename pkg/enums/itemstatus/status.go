package itemstatus

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
	if len(s.Name) == 0 {
		return ""
	}
	return strings.ToUpper(s.Name[:1]) + s.Name[1:]
}

type Enum struct {
	New       Status
	Preparing Status
	Ready     Status
	Served    Status
}

var Statuses = Enum{
	New:       Status{Name: "new"},
	Preparing: Status{Name: "preparing"},
	Ready:     Status{Name: "ready"},
	Served:    Status{Name: "served"},
}

var All = []Status{
	Statuses.New,
	Statuses.Preparing,
	Statuses.Ready,
	Statuses.Served,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == strings.ToLower(name) {
			return &s
		}
	}
	return nil
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.Name), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = Status{}
		return nil
	}
	found := ByName(string(text))
	if found == nil {
		return fmt.Errorf("unknown item status %q", text)
	}
	*s = *found
	return nil
}

// Rank orders item statuses along the kitchen lifecycle. Unknown statuses rank -1.
func (s Status) Rank() int {
	for i, st := range All {
		if st == s {
			return i
		}
	}
	return -1
}
