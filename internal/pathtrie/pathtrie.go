// Package pathtrie maps dotted metadata paths to the fields extracted there.
//
// Each configured path "a.b.c" is split on '.' and stored along the chain of
// nodes "a" -> "a.b"; the field is registered at "a.b" under key "c", which
// is the metadata key the crawler reads when it stands at that node. The
// wildcard component "*" is an ordinary key here and is interpreted by the
// crawler. Children are kept sorted so traversal order is reproducible.
package pathtrie

import (
	"sort"
	"strings"

	"github.com/Aman-CERP/fabindex/internal/indexconfig"
)

// Wildcard matches every value of the current metadata object.
const Wildcard = "*"

// Registration is one (field, path) pair terminating at a node.
type Registration struct {
	// Field is the configured field.
	Field *indexconfig.FieldConfig
	// Key is the metadata key read at the node.
	Key string
	// Path is the configured dotted path this registration came from.
	Path string
}

// Node is a trie node. A built trie is read-only and safe for concurrent readers.
type Node struct {
	path     string
	fields   []Registration
	children map[string]*Node
	keys     []string
}

func newNode(path string) *Node {
	return &Node{path: path, children: map[string]*Node{}}
}

// Build constructs the trie for fields. Fields must outlive the trie.
func Build(fields []indexconfig.FieldConfig) *Node {
	root := newNode("")
	for i := range fields {
		f := &fields[i]
		for _, p := range f.Paths {
			root.insert(f, p)
		}
	}
	root.finish()
	return root
}

func (n *Node) insert(f *indexconfig.FieldConfig, path string) {
	components := strings.Split(path, ".")
	cur := n
	for i, c := range components {
		// The last component, or an empty one, terminates here.
		if i == len(components)-1 || c == "" {
			key := c
			if key == "" {
				key = f.Name
			}
			cur.fields = append(cur.fields, Registration{Field: f, Key: key, Path: path})
			return
		}
		child, ok := cur.children[c]
		if !ok {
			childPath := c
			if cur.path != "" {
				childPath = cur.path + "." + c
			}
			child = newNode(childPath)
			cur.children[c] = child
		}
		cur = child
	}
}

// finish sorts children keys and registrations throughout the subtree.
func (n *Node) finish() {
	n.keys = n.keys[:0]
	for k := range n.children {
		n.keys = append(n.keys, k)
	}
	sort.Strings(n.keys)
	sort.SliceStable(n.fields, func(i, j int) bool {
		a, b := n.fields[i], n.fields[j]
		if a.Field.Name != b.Field.Name {
			return a.Field.Name < b.Field.Name
		}
		return a.Path < b.Path
	})
	for _, c := range n.children {
		c.finish()
	}
}

// Path returns the dotted prefix from the root ("" at the root).
func (n *Node) Path() string {
	return n.path
}

// Fields returns the registrations terminating at n, ordered by field name then path.
func (n *Node) Fields() []Registration {
	return n.fields
}

// Child pairs a child key with its node.
type Child struct {
	Key  string
	Node *Node
}

// Children returns n's children ordered by key.
func (n *Node) Children() []Child {
	out := make([]Child, 0, len(n.keys))
	for _, k := range n.keys {
		out = append(out, Child{Key: k, Node: n.children[k]})
	}
	return out
}

// Child returns the child under key, if any.
func (n *Node) Child(key string) (*Node, bool) {
	c, ok := n.children[key]
	return c, ok
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return len(n.children) == 0
}

// Walk visits n and its descendants in pre-order, children by key.
// Returning false from fn skips the node's subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(cur) {
			continue
		}
		for i := len(cur.keys) - 1; i >= 0; i-- {
			stack = append(stack, cur.children[cur.keys[i]])
		}
	}
}

// Count returns the total number of registrations in the subtree.
func (n *Node) Count() int {
	total := 0
	n.Walk(func(x *Node) bool {
		total += len(x.fields)
		return true
	})
	return total
}

// Depth returns the number of edges on the longest root-to-leaf chain.
func (n *Node) Depth() int {
	d := 0
	for _, c := range n.children {
		if cd := c.Depth() + 1; cd > d {
			d = cd
		}
	}
	return d
}
