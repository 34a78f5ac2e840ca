package metrics

import (
	"errors"
	"math"

	"kgraph/backend/internal/graph"
)

var errNoConvergence = errors.New("eigenvector power iteration did not converge")

// Betweenness computes directed betweenness centrality with Brandes'
// algorithm, normalized by 1/((n-1)(n-2)). Graphs with fewer than three
// nodes score zero everywhere.
func Betweenness(g *graph.Graph) map[int64]float64 {
	ids := g.NodeIDs()
	n := len(ids)
	cb := make(map[int64]float64, n)
	for _, id := range ids {
		cb[id] = 0
	}
	if n < 3 {
		return cb
	}

	successors := make(map[int64][]int64, n)
	for _, id := range ids {
		successors[id] = g.Successors(id)
	}

	for _, s := range ids {
		stack := make([]int64, 0, n)
		preds := make(map[int64][]int64, n)
		sigma := map[int64]float64{s: 1}
		dist := map[int64]int{s: 0}
		queue := []int64{s}

		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range successors[v] {
				if _, seen := dist[w]; !seen {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		delta := make(map[int64]float64, len(stack))
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				cb[w] += delta[w]
			}
		}
	}

	scale := 1.0 / float64((n-1)*(n-2))
	for id := range cb {
		cb[id] *= scale
	}
	return cb
}

// Eigenvector computes eigenvector centrality over the symmetrized adjacency
// by power iteration on (A + I). The result has unit L2 norm. An error is
// returned when the iteration does not settle within maxIter rounds.
func Eigenvector(g *graph.Graph, maxIter int, tol float64) (map[int64]float64, error) {
	ids := g.NodeIDs()
	n := len(ids)
	out := make(map[int64]float64, n)
	if n == 0 {
		return out, nil
	}

	index := make(map[int64]int, n)
	for i, id := range ids {
		index[id] = i
	}
	adj := make([][]int, n)
	for i, id := range ids {
		for _, nb := range g.Neighbors(id) {
			if nb != id {
				adj[i] = append(adj[i], index[nb])
			}
		}
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = 1.0 / float64(n)
	}

	for iter := 0; iter < maxIter; iter++ {
		next := make([]float64, n)
		copy(next, x)
		for i, nbrs := range adj {
			for _, j := range nbrs {
				next[i] += x[j]
			}
		}

		norm := 0.0
		for _, v := range next {
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			return nil, errNoConvergence
		}

		diff := 0.0
		for i := range next {
			next[i] /= norm
			diff += math.Abs(next[i] - x[i])
		}
		x = next

		if diff < float64(n)*tol {
			for i, id := range ids {
				out[id] = x[i]
			}
			return out, nil
		}
	}
	return nil, errNoConvergence
}

// Degrees returns the total degree (in + out) of every node
func Degrees(g *graph.Graph) map[int64]int {
	out := make(map[int64]int, g.NodeCount())
	for _, id := range g.NodeIDs() {
		out[id] = g.Degree(id)
	}
	return out
}
