package xmlutil

import (
	"bytes"
	"fmt"
	"sort"
)

// Canonicalize renders n using a simplified exclusive XML canonicalization
// (XML-C14N 1.0 exclusive): elements are written by local name, attributes
// are sorted by name ("<namespace>:<local>" for namespaced attributes, with
// namespace declarations sorted among them), and text content is escaped. This is not
// a full general-purpose C14N implementation (it assumes no namespace
// redeclaration shadowing and no comments/PIs inside signed subtrees, which
// never occur in EBICS/ISO 20022 documents), but it is applied identically
// on both the signing and verifying side, which is what EBICS's
// sign-then-verify contract requires.
func Canonicalize(n *Node) []byte {
	var buf bytes.Buffer
	canonicalizeNode(&buf, n)
	return buf.Bytes()
}

func canonicalizeNode(buf *bytes.Buffer, n *Node) {
	buf.WriteByte('<')
	buf.WriteString(n.Local)

	attrs := append([]AttrPair{}, attrPairs(n)...)
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].name < attrs[j].name })
	for _, a := range attrs {
		fmt.Fprintf(buf, ` %s="%s"`, a.name, escapeAttr(a.value))
	}
	buf.WriteByte('>')

	buf.WriteString(escapeText(n.Text))
	for _, c := range n.Children {
		canonicalizeNode(buf, c)
	}

	buf.WriteString("</")
	buf.WriteString(n.Local)
	buf.WriteByte('>')
}

type AttrPair struct {
	name  string
	value string
}

func attrPairs(n *Node) []AttrPair {
	out := make([]AttrPair, 0, len(n.Attrs))
	for _, a := range n.Attrs {
		name := a.Name.Local
		if a.Name.Space != "" {
			name = a.Name.Space + ":" + a.Name.Local
		}
		out = append(out, AttrPair{name: name, value: a.Value})
	}
	return out
}

func escapeText(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		case '\r':
			buf.WriteString("&#xD;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

func escapeAttr(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '"':
			buf.WriteString("&quot;")
		case '\t':
			buf.WriteString("&#x9;")
		case '\n':
			buf.WriteString("&#xA;")
		case '\r':
			buf.WriteString("&#xD;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

// FindByAttr walks the subtree rooted at n depth-first and returns every
// element carrying attribute name=value, used to locate authenticate="true"
// nodes for EBICS signing.
func FindByAttr(n *Node, name, value string) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(cur *Node) {
		if cur.Attr(name) == value {
			out = append(out, cur)
		}
		for _, c := range cur.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}

// FindFirst walks the subtree depth-first and returns the first element
// with the given local name, or nil.
func FindFirst(n *Node, localName string) *Node {
	if n.Local == localName {
		return n
	}
	for _, c := range n.Children {
		if found := FindFirst(c, localName); found != nil {
			return found
		}
	}
	return nil
}
