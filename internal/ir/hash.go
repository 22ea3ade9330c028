package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows migrating
// the encoding without colliding with old hashes.
const (
	DomainGraph  = "ampc/graph/v1"
	DomainPolicy = "ampc/policy/v1"
)

// HashWithDomain computes SHA256(domain + 0x00 + data) as hex.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// GraphHash is the content hash of a graph's structure: names, kinds, ops,
// wiring, attributes and declared dtypes. Source positions and autocast
// annotations are excluded, so the same program loaded from a moved file
// hashes the same.
func GraphHash(g *Graph) (string, error) {
	canonical, err := MarshalCanonical(graphObject(g))
	if err != nil {
		return "", fmt.Errorf("GraphHash: %w", err)
	}
	return HashWithDomain(DomainGraph, canonical), nil
}

// MustGraphHash is like GraphHash but panics on error.
// Use only in tests or when the graph is known to be well-formed.
func MustGraphHash(g *Graph) string {
	h, err := GraphHash(g)
	if err != nil {
		panic(err)
	}
	return h
}

func graphObject(g *Graph) map[string]any {
	funcs := make(map[string]any, len(g.Funcs))
	for name, f := range g.Funcs {
		funcs[name] = map[string]any{
			"params": valueObjects(f.Params),
			"body":   blockObject(f.Body),
		}
	}
	return map[string]any{
		"name":   g.Name,
		"params": valueObjects(g.Params),
		"body":   blockObject(g.Body),
		"funcs":  funcs,
	}
}

func blockObject(b *Block) map[string]any {
	nodes := make([]any, len(b.Nodes))
	for i, n := range b.Nodes {
		nodes[i] = nodeObject(n)
	}
	return map[string]any{
		"params": valueObjects(b.Params),
		"nodes":  nodes,
		"yields": valueIDs(b.Yields),
	}
}

func nodeObject(n *Node) map[string]any {
	blocks := make([]any, len(n.Blocks))
	for i, sub := range n.Blocks {
		blocks[i] = blockObject(sub)
	}
	obj := map[string]any{
		"id":     n.ID,
		"kind":   n.Kind.String(),
		"op":     n.Op,
		"in":     valueIDs(n.Inputs),
		"out":    valueObjects(n.Outputs),
		"blocks": blocks,
	}
	if len(n.Attrs) > 0 {
		obj["attrs"] = n.Attrs
	}
	return obj
}

func valueObjects(vals []*Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = map[string]any{
			"id":    v.ID,
			"name":  v.Name,
			"kind":  v.Kind.String(),
			"dtype": v.DType.String(),
		}
	}
	return out
}

func valueIDs(vals []*Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v.ID
	}
	return out
}
