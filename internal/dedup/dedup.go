package dedup

import "github.com/John-Robertt/spider-clash/internal/model"

type Result struct {
	// Nodes keeps first-seen order. Decode-error and endpoint-less nodes are
	// passed through untouched.
	Nodes []model.Node

	Duplicates int
	Invalid    int // decode-error nodes (counted, still present in Nodes)
	Unkeyed    int // nodes without a usable endpoint, including Invalid
}

// Dedup collapses nodes sharing (scheme, address, port, identifier), keeping
// the first occurrence.
func Dedup(in []model.Node) Result {
	seen := make(map[string]struct{}, len(in))
	res := Result{Nodes: make([]model.Node, 0, len(in))}
	for _, n := range in {
		key := n.Key()
		if key == "" {
			if n.Failed() {
				res.Invalid++
			}
			res.Unkeyed++
			res.Nodes = append(res.Nodes, n)
			continue
		}
		if _, ok := seen[key]; ok {
			res.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		res.Nodes = append(res.Nodes, n)
	}
	return res
}

// Probeable returns the subset of nodes that have a TCP target.
func Probeable(nodes []model.Node) []model.Node {
	out := make([]model.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Probeable() {
			out = append(out, n)
		}
	}
	return out
}
