package bundle

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sdd/internal/ir"
)

// Encode serializes an entity document to YAML.
//
// When previous holds the file's former content, mapping keys keep their
// previous order and comments, at every nesting level; keys that did not
// exist before are appended in sorted order. This keeps diffs of applied
// changes limited to the lines that actually changed.
func Encode(doc ir.Document, previous []byte) ([]byte, error) {
	var node yaml.Node
	if err := node.Encode(map[string]any(doc)); err != nil {
		return nil, fmt.Errorf("encoding entity: %w", err)
	}

	if len(previous) > 0 {
		var prev yaml.Node
		if err := yaml.Unmarshal(previous, &prev); err == nil && prev.Kind == yaml.DocumentNode && len(prev.Content) == 1 {
			alignMapping(&node, prev.Content[0])
			if prev.HeadComment != "" {
				node.HeadComment = prev.HeadComment
			}
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, fmt.Errorf("encoding entity: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding entity: %w", err)
	}
	return buf.Bytes(), nil
}

// alignMapping reorders the pairs of mapping node cur to follow prev.
func alignMapping(cur, prev *yaml.Node) {
	if cur.Kind != yaml.MappingNode || prev.Kind != yaml.MappingNode {
		return
	}
	cur.HeadComment = prev.HeadComment
	cur.FootComment = prev.FootComment

	type pair struct{ key, value *yaml.Node }
	pairs := make(map[string]pair, len(cur.Content)/2)
	var order []string
	for i := 0; i+1 < len(cur.Content); i += 2 {
		k := cur.Content[i].Value
		pairs[k] = pair{cur.Content[i], cur.Content[i+1]}
		order = append(order, k)
	}

	content := make([]*yaml.Node, 0, len(cur.Content))
	placed := make(map[string]bool, len(pairs))
	for i := 0; i+1 < len(prev.Content); i += 2 {
		pk, pv := prev.Content[i], prev.Content[i+1]
		p, ok := pairs[pk.Value]
		if !ok {
			continue
		}
		p.key.HeadComment = pk.HeadComment
		p.key.LineComment = pk.LineComment
		p.key.FootComment = pk.FootComment
		if p.value.Kind == pv.Kind && p.value.Kind == yaml.ScalarNode {
			p.value.LineComment = pv.LineComment
		}
		alignMapping(p.value, pv)
		content = append(content, p.key, p.value)
		placed[pk.Value] = true
	}
	// node.Encode emits map keys sorted, so the remainder is already in order.
	for _, k := range order {
		if !placed[k] {
			content = append(content, pairs[k].key, pairs[k].value)
		}
	}
	cur.Content = content
}
