// Package frontmatter encodes and decodes the YAML metadata block at the
// head of a markdown document. Parsing never fails: malformed or absent
// frontmatter yields an empty mapping and the untouched content as body.
package frontmatter

import (
	"bytes"
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// IDKey is the well-known frontmatter field holding a note's stable identity.
const IDKey = "spacetime_id"

const delim = "---"

// Mapping is an ordered, flat key-value frontmatter block. Key order is
// preserved through parse/serialize so injection of one field does not
// perturb the rest.
type Mapping struct {
	keys []string
	vals []*yaml.Node
}

// Len returns the number of fields in the mapping.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Get returns the scalar value for key. Non-scalar values report false.
func (m *Mapping) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	for i, k := range m.keys {
		if k == key {
			if m.vals[i].Kind == yaml.ScalarNode {
				return m.vals[i].Value, true
			}
			return "", false
		}
	}
	return "", false
}

// Set stores a scalar value for key, replacing an existing entry in place
// or appending a new one.
func (m *Mapping) Set(key, value string) {
	node := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	for i, k := range m.keys {
		if k == key {
			m.vals[i] = node
			return
		}
	}
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, node)
}

// JSON encodes the mapping as a JSON object in insertion order. An empty
// mapping encodes as "{}".
func (m *Mapping) JSON() string {
	if m.Len() == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		var v interface{}
		if err := m.vals[i].Decode(&v); err != nil {
			buf.WriteString("null")
			continue
		}
		vb, err := json.Marshal(v)
		if err != nil {
			buf.WriteString("null")
			continue
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.String()
}

// FromJSON decodes a JSON-encoded mapping (as stored remotely) back into an
// ordered Mapping. Invalid input yields an empty mapping.
func FromJSON(s string) *Mapping {
	m := &Mapping{}
	s = strings.TrimSpace(s)
	if s == "" || s == "{}" {
		return m
	}
	// JSON is a YAML subset; decoding through yaml.Node keeps field order.
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		return m
	}
	collect(&doc, m)
	return m
}

// Parse splits content into its frontmatter mapping and body. If the content
// does not start with a recognized delimiter, or the block is unparseable,
// the mapping is empty and the body is the entire content.
func Parse(content string) (*Mapping, string) {
	m := &Mapping{}
	if !strings.HasPrefix(content, delim) {
		return m, content
	}

	rest := content[len(delim):]
	idx := strings.Index(rest, "\n"+delim)
	if idx < 0 {
		// No closing delimiter: everything is body.
		return m, content
	}

	block := rest[:idx]
	body := strings.TrimLeft(rest[idx+1+len(delim):], "\n\r")

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(block), &doc); err != nil {
		return m, content
	}
	if !collect(&doc, m) {
		return &Mapping{}, content
	}
	return m, body
}

// Serialize is the inverse of Parse: it renders the mapping block followed
// by the body. An empty mapping yields the body unchanged. Serializing a
// just-parsed document reproduces the serialized form byte for byte.
func Serialize(m *Mapping, body string) string {
	if m.Len() == 0 {
		return body
	}
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for i, k := range m.keys {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			m.vals[i])
	}
	out, err := yaml.Marshal(node)
	if err != nil {
		return body
	}
	return delim + "\n" + string(out) + delim + "\n\n" + body
}

// ID extracts the identity field from content, or "" when absent.
func ID(content string) string {
	m, _ := Parse(content)
	v, _ := m.Get(IDKey)
	return v
}

// WithID returns content with the identity field present. When an identity
// is already assigned the content is returned unchanged and the second
// result is false, so repeated injection never triggers repeated writes.
func WithID(content, id string) (string, bool) {
	m, body := Parse(content)
	if existing, ok := m.Get(IDKey); ok && existing != "" {
		return content, false
	}
	m.Set(IDKey, id)
	return Serialize(m, body), true
}

// collect extracts the top-level mapping pairs from a parsed document node.
// It reports false when the document is not a flat mapping.
func collect(doc *yaml.Node, m *Mapping) bool {
	node := doc
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return true // empty block parses as an empty mapping
		}
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k := node.Content[i]
		if k.Kind != yaml.ScalarNode {
			continue
		}
		m.keys = append(m.keys, k.Value)
		m.vals = append(m.vals, node.Content[i+1])
	}
	return true
}
