package permissions

import (
	"encoding/json"
	"fmt"
)

// Selection is a frontend-supplied whitelist: either the literal string
// "auto" (take everything permitted) or an explicit list of names.
type Selection struct {
	Auto  bool
	Names []string
}

// Auto is the selection that accepts every permitted item.
var Auto = Selection{Auto: true}

// Explicit builds a whitelist selection.
func Explicit(names ...string) Selection {
	return Selection{Names: names}
}

// UnmarshalJSON accepts "auto", null (treated as auto), or an array of
// names.
func (s *Selection) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Selection{Auto: true}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str != "auto" {
			return fmt.Errorf("unknown selection mode %q", str)
		}
		*s = Selection{Auto: true}
		return nil
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("selection must be \"auto\" or a name list")
	}
	*s = Selection{Names: names}
	return nil
}

// MarshalJSON renders the selection back to its wire form.
func (s Selection) MarshalJSON() ([]byte, error) {
	if s.Auto {
		return json.Marshal("auto")
	}
	return json.Marshal(s.Names)
}

// Intersect narrows permitted by the selection. Auto returns permitted
// unchanged; names outside permitted are silently dropped.
func Intersect(permitted Set, selection Selection) Set {
	if selection.Auto {
		return permitted
	}
	out := make(Set, len(selection.Names))
	for _, name := range selection.Names {
		if permitted.Contains(name) {
			out[name] = struct{}{}
		}
	}
	return out
}
