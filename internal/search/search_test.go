package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, q string) *ParsedQuery {
	t.Helper()
	res, err := Parse(q, false)
	require.NoError(t, err)
	return res
}

func TestSimpleTerm(t *testing.T) {
	assert.Equal(t, "hello", parse(t, "hello").FTSQuery)
}

func TestMultipleTermsImplicitAnd(t *testing.T) {
	assert.Equal(t, "hello AND world", parse(t, "hello world").FTSQuery)
}

func TestOrOperator(t *testing.T) {
	assert.Equal(t, "(hello OR world)", parse(t, "hello | world").FTSQuery)
}

func TestNotOperator(t *testing.T) {
	res := parse(t, "-hello")
	assert.Equal(t, "NOT hello", res.FTSQuery)
	assert.True(t, res.LeadingNot)

	res = parse(t, "!hello")
	assert.Equal(t, "NOT hello", res.FTSQuery)
}

func TestNotAfterPositiveClause(t *testing.T) {
	res := parse(t, "hello -world")
	assert.Equal(t, "hello AND NOT world", res.FTSQuery)
	assert.False(t, res.LeadingNot)
}

func TestPhrase(t *testing.T) {
	assert.Equal(t, `"hello world"`, parse(t, `"hello world"`).FTSQuery)
}

func TestPhraseEscapes(t *testing.T) {
	assert.Equal(t, `"say ""hi"""`, parse(t, `"say \"hi\""`).FTSQuery)
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "hel*", parse(t, "hel*").FTSQuery)
}

func TestFuzzy(t *testing.T) {
	assert.Equal(t, `"ello"`, parse(t, "%%ello%%").FTSQuery)
}

func TestFieldScopedTerm(t *testing.T) {
	res := parse(t, "@title:hello")
	assert.Equal(t, `"title":hello`, res.FTSQuery)
	assert.Equal(t, []string{"title"}, res.SearchFields)
}

func TestFieldScopedPhrase(t *testing.T) {
	assert.Equal(t, `"title":"hello world"`, parse(t, `@title:"hello world"`).FTSQuery)
}

func TestFieldScopedGroup(t *testing.T) {
	res := parse(t, "@title:(hello | world)")
	assert.Equal(t, `("title":hello OR "title":world)`, res.FTSQuery)
	assert.Equal(t, []string{"title"}, res.SearchFields)
}

func TestNumericRange(t *testing.T) {
	res := parse(t, "@price:[10 100]")
	assert.Empty(t, res.FTSQuery)
	require.Len(t, res.NumericFilters, 1)
	f := res.NumericFilters[0]
	assert.Equal(t, "price", f.Field)
	assert.Equal(t, Bound{Kind: Inclusive, Value: 10}, f.Min)
	assert.Equal(t, Bound{Kind: Inclusive, Value: 100}, f.Max)
}

func TestNumericRangeExclusive(t *testing.T) {
	res := parse(t, "@price:[(10 (100]")
	require.Len(t, res.NumericFilters, 1)
	assert.Equal(t, Bound{Kind: Exclusive, Value: 10}, res.NumericFilters[0].Min)
	assert.Equal(t, Bound{Kind: Exclusive, Value: 100}, res.NumericFilters[0].Max)
}

func TestNumericRangeInfinity(t *testing.T) {
	res := parse(t, "@price:[-inf +inf]")
	require.Len(t, res.NumericFilters, 1)
	assert.Equal(t, Unbounded, res.NumericFilters[0].Min.Kind)
	assert.Equal(t, Unbounded, res.NumericFilters[0].Max.Kind)
}

func TestNumericRangeNegativeNumber(t *testing.T) {
	res := parse(t, "@delta:[-5 5]")
	require.Len(t, res.NumericFilters, 1)
	assert.Equal(t, Bound{Kind: Inclusive, Value: -5}, res.NumericFilters[0].Min)
}

func TestTagMatch(t *testing.T) {
	res := parse(t, "@category:{electronics|books}")
	assert.Empty(t, res.FTSQuery)
	require.Len(t, res.TagFilters, 1)
	assert.Equal(t, "category", res.TagFilters[0].Field)
	assert.Equal(t, []string{"electronics", "books"}, res.TagFilters[0].Tags)
}

func TestTagMatchQuoted(t *testing.T) {
	res := parse(t, `@category:{"hard cover"|paperback}`)
	require.Len(t, res.TagFilters, 1)
	assert.Equal(t, []string{"hard cover", "paperback"}, res.TagFilters[0].Tags)
}

// Field scope, numeric range and negation in one query.
func TestComplexQuery(t *testing.T) {
	res := parse(t, "@title:hello @price:[10 (100] -cheap")
	assert.Equal(t, `"title":hello AND NOT cheap`, res.FTSQuery)
	require.Len(t, res.NumericFilters, 1)
	assert.Equal(t, "price", res.NumericFilters[0].Field)
	assert.Equal(t, Bound{Kind: Inclusive, Value: 10}, res.NumericFilters[0].Min)
	assert.Equal(t, Bound{Kind: Exclusive, Value: 100}, res.NumericFilters[0].Max)
	assert.Equal(t, []string{"title"}, res.SearchFields)
	assert.False(t, res.LeadingNot)
}

func TestMatchAll(t *testing.T) {
	res := parse(t, "*")
	assert.Empty(t, res.FTSQuery)
	assert.Empty(t, res.NumericFilters)
}

func TestGroupedOr(t *testing.T) {
	assert.Equal(t, "(hello OR world) AND test", parse(t, "(hello | world) test").FTSQuery)
}

func TestEscapesSpecials(t *testing.T) {
	assert.Equal(t, `foo":"bar`, parse(t, "foo:bar").FTSQuery)
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"(unclosed",
		`"unclosed phrase`,
		"@field",
		"@price:[10]",
		"@price:[abc 10]",
		"@tags:{a",
	}
	for _, q := range cases {
		_, err := Parse(q, false)
		assert.Error(t, err, "query %q", q)
		var pe *ParseError
		assert.ErrorAs(t, err, &pe, "query %q", q)
	}
}

func TestParseNeverPanics(t *testing.T) {
	inputs := []string{"", "@", "@@::", "[[[", "}}}", "((()))", `\`, "%%", "%%%%", "-", "!", "@f:"}
	for _, q := range inputs {
		assert.NotPanics(t, func() { _, _ = Parse(q, false) }, "query %q", q)
	}
}

// Soundness: generated MATCH strings have balanced quotes and parentheses.
func TestFTSWellFormed(t *testing.T) {
	queries := []string{
		"hello world",
		"a | b | c",
		`@t:"p q" -x y* %%zz%%`,
		"(a|b) (c d) -e",
		`quo"te par(en`,
	}
	for _, q := range queries {
		res, err := Parse(q, false)
		require.NoError(t, err)
		assert.Zero(t, strings.Count(res.FTSQuery, `"`)%2, "unbalanced quotes in %q", res.FTSQuery)
		depth := 0
		inQuote := false
		for _, c := range res.FTSQuery {
			switch c {
			case '"':
				inQuote = !inQuote
			case '(':
				if !inQuote {
					depth++
				}
			case ')':
				if !inQuote {
					depth--
				}
			}
			assert.GreaterOrEqual(t, depth, 0, "unbalanced parens in %q", res.FTSQuery)
		}
		assert.Zero(t, depth, "unbalanced parens in %q", res.FTSQuery)
	}
}

func TestExplainShapes(t *testing.T) {
	nodes, err := Explain("@title:hello", false)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	n := nodes[0]
	require.Len(t, n.Children, 3)
	assert.Equal(t, "FIELD", n.Children[0].Text)
	assert.Equal(t, "title", n.Children[1].Text)
	assert.Equal(t, "TERM", n.Children[2].Children[0].Text)
	assert.Equal(t, "hello", n.Children[2].Children[1].Text)
}

func TestExplainNumericAndTag(t *testing.T) {
	nodes, err := Explain("@price:[(10 +inf] @c:{a|b}", false)
	require.NoError(t, err)
	root := nodes[0]
	assert.Equal(t, "INTERSECT", root.Children[0].Text)

	num := root.Children[1]
	assert.Equal(t, "NUMERIC", num.Children[0].Text)
	assert.Equal(t, "price", num.Children[1].Text)
	assert.Equal(t, "(10 +inf]", num.Children[2].Text)

	tag := root.Children[2]
	assert.Equal(t, "TAG", tag.Children[0].Text)
	assert.Equal(t, "{a|b}", tag.Children[2].Text)
}

func TestExplainWildcardAndNot(t *testing.T) {
	nodes, err := Explain("*", false)
	require.NoError(t, err)
	assert.Equal(t, "WILDCARD", nodes[0].Children[0].Text)

	nodes, err = Explain("-x", false)
	require.NoError(t, err)
	assert.Equal(t, "NOT", nodes[0].Children[0].Text)
}
