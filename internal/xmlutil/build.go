package xmlutil

import "encoding/xml"

// Elem constructs a Node programmatically, for callers that need to build an
// EBICS request tree (rather than parse one) in order to sign it with
// SignAuthSignature before serializing it with Canonicalize.
func Elem(local string, attrs map[string]string, text string, children ...*Node) *Node {
	n := &Node{Local: local, Text: text, Children: children}
	for k, v := range attrs {
		n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: k}, Value: v})
	}
	return n
}
