package graph

import (
	"fmt"
	"sort"
)

// ErrorKey is the state field that carries a soft failure.
const ErrorKey = "error"

// State is the document threaded through a run. Values stored in a State are
// shared between concurrent snapshots and must be treated as immutable.
type State map[string]any

// Clone returns a shallow copy. A nil State clones to an empty one.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Err returns the soft failure message, or "" when none is set.
func (s State) Err() string {
	return errorText(s[ErrorKey])
}

// Keys returns the field names in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// apply merges update into s. Fields are only added or overwritten: nil values
// are ignored, and an existing error is never cleared or replaced by an empty
// one.
func (s State) apply(update State) {
	for k, v := range update {
		if v == nil {
			continue
		}
		if k == ErrorKey {
			msg := errorText(v)
			if msg == "" {
				continue
			}
			s[k] = msg
			continue
		}
		s[k] = v
	}
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case error:
		return e.Error()
	default:
		return fmt.Sprint(e)
	}
}
