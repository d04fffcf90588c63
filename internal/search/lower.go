package search

import "strings"

// extract walks the AST splitting it into FTS text and structured filters,
// mirroring the lowering rules of the grammar: numeric ranges and tag matches
// never reach the MATCH string, field scopes are recorded in SearchFields, and
// positive clauses are AND-joined.
func extract(e *expr, res *ParsedQuery) {
	switch e.kind {
	case exprNumericRange:
		res.NumericFilters = append(res.NumericFilters, NumericFilter{
			Field: e.field, Min: e.min, Max: e.max,
		})
	case exprTagMatch:
		res.TagFilters = append(res.TagFilters, TagFilter{Field: e.field, Tags: e.tags})
	case exprFieldText:
		addSearchField(res, e.field)
		appendFTS(res, lowerFTS(e.children[0], e.field))
	case exprAnd:
		for _, c := range e.children {
			extract(c, res)
		}
	case exprOr:
		var parts []string
		for _, c := range e.children {
			switch c.kind {
			case exprNumericRange, exprTagMatch:
				extract(c, res)
			default:
				if c.kind == exprFieldText {
					addSearchField(res, c.field)
				}
				if s := lowerFTS(c, ""); s != "" {
					parts = append(parts, s)
				}
			}
		}
		if len(parts) > 0 {
			appendFTS(res, "("+strings.Join(parts, " OR ")+")")
		}
	case exprNot:
		if s := lowerFTS(e.children[0], ""); s != "" {
			appendFTS(res, "NOT "+s)
		}
	case exprMatchAll:
		// No text predicate; callers treat the absent MATCH as a full scan.
	default:
		appendFTS(res, lowerFTS(e, ""))
	}
}

func addSearchField(res *ParsedQuery, field string) {
	for _, f := range res.SearchFields {
		if f == field {
			return
		}
	}
	res.SearchFields = append(res.SearchFields, field)
}

func appendFTS(res *ParsedQuery, fts string) {
	if fts == "" {
		return
	}
	if res.FTSQuery == "" {
		res.FTSQuery = fts
	} else {
		res.FTSQuery = res.FTSQuery + " AND " + fts
	}
}

// lowerFTS renders one AST node as FTS5 MATCH text. field, when non-empty,
// scopes terms as "field":token.
func lowerFTS(e *expr, field string) string {
	switch e.kind {
	case exprTerm:
		escaped := escapeTerm(e.text)
		if field != "" {
			return `"` + field + `":` + escaped
		}
		return escaped
	case exprPrefix:
		escaped := escapeTerm(e.text)
		if field != "" {
			return `"` + field + `":` + escaped + "*"
		}
		return escaped + "*"
	case exprFuzzy:
		// The trigram tokenizer turns a quoted token into a substring match.
		quoted := `"` + escapePhrase(e.text) + `"`
		if field != "" {
			return `"` + field + `":` + quoted
		}
		return quoted
	case exprPhrase:
		quoted := `"` + escapePhrase(e.text) + `"`
		if field != "" {
			return `"` + field + `":` + quoted
		}
		return quoted
	case exprFieldText:
		return lowerFTS(e.children[0], e.field)
	case exprAnd:
		return lowerJoin(e.children, field, " AND ")
	case exprOr:
		return lowerJoin(e.children, field, " OR ")
	case exprNot:
		inner := lowerFTS(e.children[0], field)
		if inner == "" {
			return ""
		}
		return "NOT " + inner
	default:
		// Numeric ranges and tag matches are SQL filters, not FTS text.
		return ""
	}
}

func lowerJoin(children []*expr, field, op string) string {
	var parts []string
	for _, c := range children {
		if s := lowerFTS(c, field); s != "" {
			parts = append(parts, s)
		}
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return "(" + strings.Join(parts, op) + ")"
	}
}

// escapeTerm wraps each FTS5 special character as a quoted single char so a
// bare token survives MATCH parsing.
func escapeTerm(term string) string {
	var sb strings.Builder
	sb.Grow(len(term))
	for i := 0; i < len(term); i++ {
		switch c := term[i]; c {
		case '"':
			// A quoted double-quote is written doubled inside its quotes so
			// the result stays balanced.
			sb.WriteString(`""""`)
		case '(', ')', '*', ':', '^':
			sb.WriteByte('"')
			sb.WriteByte(c)
			sb.WriteByte('"')
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// escapePhrase doubles quotes inside a quoted FTS5 phrase.
func escapePhrase(phrase string) string {
	return strings.ReplaceAll(phrase, `"`, `""`)
}
