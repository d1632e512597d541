package types

import (
	"strconv"
	"strings"
)

// Event is the flattened form of an engine event as stored by the journal
// and streamed to subscribers. Attribute values are decimal strings for
// amounts and ids.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the trimmed attribute value, or "" when absent.
func (e *Event) Attr(key string) string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.Attributes[key])
}

// ID parses a numeric id attribute such as loanId. Missing or malformed
// values yield zero, which is never a valid record id.
func (e *Event) ID(key string) uint64 {
	id, err := strconv.ParseUint(e.Attr(key), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Participant is an address named by an event under a role attribute.
type Participant struct {
	Role    string
	Address string
}

// Participants returns the addresses found under roles in role order. An
// address appearing twice under the same role is listed once.
func (e *Event) Participants(roles ...string) []Participant {
	var out []Participant
	seen := make(map[Participant]struct{})
	for _, role := range roles {
		addr := e.Attr(role)
		if addr == "" {
			continue
		}
		p := Participant{Role: role, Address: addr}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
