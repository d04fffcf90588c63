package search

import (
	"strconv"

	"github.com/davecgh/go-spew/spew"
)

// Node is one entry in an FT.EXPLAIN tree: either a leaf string or a nested
// labelled array.
type Node struct {
	Text     string
	Children []Node
}

// Leaf returns a text node.
func Leaf(s string) Node { return Node{Text: s} }

// Arr returns a nested node.
func Arr(children ...Node) Node { return Node{Children: children} }

// IsLeaf reports whether n carries text rather than children.
func (n Node) IsLeaf() bool { return n.Children == nil }

// Explain parses the query and returns its diagnostic tree.
func Explain(query string, verbatim bool) ([]Node, error) {
	root, err := ParseExpr(query, verbatim)
	if err != nil {
		return nil, err
	}
	return []Node{explainNode(root)}, nil
}

// Dump renders nodes for debug logging.
func Dump(nodes []Node) string {
	return spew.Sdump(nodes)
}

func explainNode(e *expr) Node {
	switch e.kind {
	case exprTerm:
		return Arr(Leaf("TERM"), Leaf(e.text))
	case exprPrefix:
		return Arr(Leaf("PREFIX"), Leaf(e.text+"*"))
	case exprFuzzy:
		return Arr(Leaf("FUZZY"), Leaf("%%"+e.text+"%%"))
	case exprPhrase:
		return Arr(Leaf("PHRASE"), Leaf(`"`+e.text+`"`))
	case exprFieldText:
		return Arr(Leaf("FIELD"), Leaf(e.field), explainNode(e.children[0]))
	case exprNumericRange:
		return Arr(Leaf("NUMERIC"), Leaf(e.field), Leaf(boundMin(e.min)+" "+boundMax(e.max)))
	case exprTagMatch:
		tagList := ""
		for i, t := range e.tags {
			if i > 0 {
				tagList += "|"
			}
			tagList += t
		}
		return Arr(Leaf("TAG"), Leaf(e.field), Leaf("{"+tagList+"}"))
	case exprAnd:
		nodes := []Node{Leaf("INTERSECT")}
		for _, c := range e.children {
			nodes = append(nodes, explainNode(c))
		}
		return Arr(nodes...)
	case exprOr:
		nodes := []Node{Leaf("UNION")}
		for _, c := range e.children {
			nodes = append(nodes, explainNode(c))
		}
		return Arr(nodes...)
	case exprNot:
		return Arr(Leaf("NOT"), explainNode(e.children[0]))
	default:
		return Arr(Leaf("WILDCARD"), Leaf("*"))
	}
}

func boundMin(b Bound) string {
	switch b.Kind {
	case Unbounded:
		return "[-inf"
	case Exclusive:
		return "(" + formatBound(b.Value)
	default:
		return "[" + formatBound(b.Value)
	}
}

func boundMax(b Bound) string {
	switch b.Kind {
	case Unbounded:
		return "+inf]"
	case Exclusive:
		return formatBound(b.Value) + ")"
	default:
		return formatBound(b.Value) + "]"
	}
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
