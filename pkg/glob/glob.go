// Package glob implements Redis-style glob pattern matching.
//
// Supported syntax:
//   - `*` matches any run of bytes (including empty)
//   - `?` matches exactly one byte
//   - `[abc]` matches any byte in the set, `[^abc]` any byte not in it
//   - `[a-c]` matches a byte range; ranges and literals may be mixed
//   - `\x` matches the literal byte x
//
// Matching is byte-oriented: multi-byte UTF-8 sequences are treated as opaque
// bytes, so patterns behave identically for binary-safe channel names and keys.
package glob

// Match reports whether s matches pattern.
func Match(pattern, s string) bool {
	return matchBytes([]byte(pattern), []byte(s))
}

// MatchBytes is the []byte form of Match.
func MatchBytes(pattern, s []byte) bool {
	return matchBytes(pattern, s)
}

func matchBytes(p, s []byte) bool {
	pi, si := 0, 0
	// Backtracking points for the most recent '*'.
	starPi, starSi := -1, -1

	for si < len(s) {
		if pi < len(p) {
			switch p[pi] {
			case '*':
				// Collapse consecutive stars and remember the restart point.
				for pi < len(p) && p[pi] == '*' {
					pi++
				}
				starPi, starSi = pi, si
				continue
			case '?':
				pi++
				si++
				continue
			case '[':
				if ok, next := matchSet(p, pi, s[si]); ok {
					pi = next
					si++
					continue
				}
			case '\\':
				if pi+1 < len(p) {
					if p[pi+1] == s[si] {
						pi += 2
						si++
						continue
					}
				} else if p[pi] == s[si] {
					pi++
					si++
					continue
				}
			default:
				if p[pi] == s[si] {
					pi++
					si++
					continue
				}
			}
		}

		// Mismatch: retry after the last '*', consuming one more byte.
		if starPi >= 0 {
			starSi++
			pi, si = starPi, starSi
			continue
		}
		return false
	}

	// Trailing pattern must be all stars.
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

// matchSet matches a single byte against the bracket set starting at p[open]
// (which must be '['). It returns whether the byte matched and the index just
// past the closing ']'.
func matchSet(p []byte, open int, b byte) (bool, int) {
	i := open + 1
	negate := false
	if i < len(p) && p[i] == '^' {
		negate = true
		i++
	}

	matched := false
	first := true
	for i < len(p) {
		if p[i] == ']' && !first {
			i++
			if negate {
				matched = !matched
			}
			return matched, i
		}
		first = false

		var lo byte
		if p[i] == '\\' && i+1 < len(p) {
			i++
			lo = p[i]
		} else {
			lo = p[i]
		}
		i++

		// Range form lo-hi, unless '-' is the closing position.
		if i+1 < len(p) && p[i] == '-' && p[i+1] != ']' {
			hi := p[i+1]
			i += 2
			if lo > hi {
				lo, hi = hi, lo
			}
			if b >= lo && b <= hi {
				matched = true
			}
			continue
		}

		if b == lo {
			matched = true
		}
	}

	// Unterminated set: treat as a failed match consuming the rest.
	return false, len(p)
}
