package config

import "strings"

// Interpolate expands ${NAME:-default} references in s using lookup to
// resolve NAME. A reference whose variable is set (even to the empty
// string) resolves to that value; otherwise it resolves to default.
// Unrecognized or malformed references are left verbatim.
func Interpolate(s string, lookup func(string) (string, bool)) string {
	var out strings.Builder
	for i := 0; i < len(s); {
		start := strings.Index(s[i:], "${")
		if start == -1 {
			out.WriteString(s[i:])
			break
		}
		start += i
		out.WriteString(s[i:start])

		end := strings.IndexByte(s[start:], '}')
		if end == -1 {
			out.WriteString(s[start:])
			break
		}
		end += start

		body := s[start+2 : end]
		name, def, hasDefault := strings.Cut(body, ":-")
		if name == "" {
			out.WriteString(s[start : end+1])
			i = end + 1
			continue
		}
		if val, ok := lookup(name); ok {
			out.WriteString(val)
		} else if hasDefault {
			out.WriteString(def)
		}
		i = end + 1
	}
	return out.String()
}
