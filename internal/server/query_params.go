package server

import (
	"strings"
)

// parseMemberList reads a comma separated member list. An absent parameter
// yields nil; a present but empty one yields an empty list.
func parseMemberList(value string, present bool) []string {
	if !present {
		return nil
	}
	out := []string{}
	seen := make(map[string]struct{})
	for _, part := range strings.Split(value, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
