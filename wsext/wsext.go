// Package wsext parses Sec-WebSocket-Extensions tokens: comma-separated
// "name(;k=v)*" entries, where a value is either a bare token or a
// backslash-escapable quoted string. Grounded directly on
// _examples/original_source/proxy/src/wsproxysession.cpp's parseParams
// (Pushpin's wsproxysession.cpp) since none of the pack's example repos
// carry this exact grammar.
package wsext

import "strings"

// Extension is the parsed form of one Sec-WebSocket-Extensions token.
type Extension struct {
	Name   string
	Params map[string]string
}

// IsNull reports whether e is the zero-value "no such extension" result.
func (e Extension) IsNull() bool {
	return e.Name == ""
}

// ParseParams parses a ";"-separated parameter list of the form
// "k1=v1;k2=\"v2\";k3". A malformed list (unterminated quote, "=" at end
// of input) returns ok == false and a nil map.
func ParseParams(in string) (map[string]string, bool) {
	out := map[string]string{}
	start := 0
	for start < len(in) {
		at := findNext(in, "=;", start)
		var key, val string
		if at == -1 {
			key = strings.TrimSpace(in[start:])
			out[key] = val
			start = len(in)
			continue
		}

		if in[at] == '=' {
			key = strings.TrimSpace(in[start:at])
			if at+1 >= len(in) {
				return nil, false
			}
			at++
			if in[at] == '"' {
				at++
				complete := false
				var sb strings.Builder
				n := at
				for ; n < len(in); n++ {
					if in[n] == '\\' {
						if n+1 >= len(in) {
							return nil, false
						}
						n++
						sb.WriteByte(in[n])
					} else if in[n] == '"' {
						complete = true
						at = n + 1
						break
					} else {
						sb.WriteByte(in[n])
					}
				}
				if !complete {
					return nil, false
				}
				val = sb.String()
				if semi := strings.IndexByte(in[at:], ';'); semi != -1 {
					start = at + semi + 1
				} else {
					start = len(in)
				}
			} else {
				vstart := at
				if semi := strings.IndexByte(in[vstart:], ';'); semi != -1 {
					val = strings.TrimSpace(in[vstart : vstart+semi])
					start = vstart + semi + 1
				} else {
					val = strings.TrimSpace(in[vstart:])
					start = len(in)
				}
			}
		} else {
			// bare key terminated by ';', no value
			key = strings.TrimSpace(in[start:at])
			start = at + 1
		}
		out[key] = val
	}
	return out, true
}

func findNext(in, charList string, start int) int {
	for n := start; n < len(in); n++ {
		if strings.IndexByte(charList, in[n]) != -1 {
			return n
		}
	}
	return -1
}

// Find scans a list of raw Sec-WebSocket-Extensions token strings (each
// already split on top-level commas by the caller) for one named name.
// A malformed parameter list on the matching entry yields a null
// Extension (spec.md §3: "A malformed parameter list yields a null
// extension and the offer is treated as absent").
func Find(extStrings []string, name string) Extension {
	for _, ext := range extStrings {
		var entryName, rest string
		if at := strings.IndexByte(ext, ';'); at != -1 {
			entryName = strings.TrimSpace(ext[:at])
			rest = ext[at+1:]
		} else {
			entryName = strings.TrimSpace(ext)
		}
		if entryName != name {
			continue
		}
		e := Extension{Name: name}
		if rest != "" {
			params, ok := ParseParams(rest)
			if !ok {
				return Extension{}
			}
			e.Params = params
		} else {
			e.Params = map[string]string{}
		}
		return e
	}
	return Extension{}
}

// SplitHeaderValues splits the possibly-multiple raw
// Sec-WebSocket-Extensions header values (http.Header stores repeated
// headers as a slice, and each value may itself contain comma-separated
// extension offers) into individual extension token strings.
func SplitHeaderValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
