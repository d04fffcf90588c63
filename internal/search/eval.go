package search

import (
	"strconv"
	"strings"
)

// Matcher evaluates a parsed query against one document's fields in memory.
// The SQL layer uses FTS5 for candidate pruning; the matcher gives the exact
// verdict, covering field scopes and standalone-NOT queries FTS5 cannot
// express.
type Matcher struct {
	root   *expr
	parsed *ParsedQuery
}

// Compile parses the query once for repeated evaluation.
func Compile(query string, verbatim bool) (*Matcher, error) {
	root, err := ParseExpr(query, verbatim)
	if err != nil {
		return nil, err
	}
	parsed, err := Parse(query, verbatim)
	if err != nil {
		return nil, err
	}
	return &Matcher{root: root, parsed: parsed}, nil
}

// Query returns the lowered form.
func (m *Matcher) Query() *ParsedQuery { return m.parsed }

// Match evaluates the full query, filters included, against a field map.
func (m *Matcher) Match(doc map[string]string) bool {
	return evalExpr(m.root, doc, "")
}

// evalExpr matches with trigram-tokenizer semantics: terms, prefixes, fuzzy
// and phrases all reduce to case-insensitive substring containment.
func evalExpr(e *expr, doc map[string]string, field string) bool {
	switch e.kind {
	case exprTerm, exprPrefix, exprFuzzy, exprPhrase:
		return containsText(doc, field, e.text)
	case exprFieldText:
		return evalExpr(e.children[0], doc, e.field)
	case exprNumericRange:
		raw, ok := doc[e.field]
		if !ok {
			return false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return false
		}
		return e.min.Contains(v, true) && e.max.Contains(v, false)
	case exprTagMatch:
		raw, ok := doc[e.field]
		if !ok {
			return false
		}
		for _, have := range strings.Split(raw, ",") {
			have = strings.TrimSpace(have)
			for _, want := range e.tags {
				if strings.EqualFold(have, want) {
					return true
				}
			}
		}
		return false
	case exprAnd:
		for _, c := range e.children {
			if !evalExpr(c, doc, field) {
				return false
			}
		}
		return true
	case exprOr:
		for _, c := range e.children {
			if evalExpr(c, doc, field) {
				return true
			}
		}
		return false
	case exprNot:
		return !evalExpr(e.children[0], doc, field)
	default: // match-all
		return true
	}
}

func containsText(doc map[string]string, field, needle string) bool {
	needle = strings.ToLower(needle)
	if field != "" {
		return strings.Contains(strings.ToLower(doc[field]), needle)
	}
	for _, v := range doc {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}
