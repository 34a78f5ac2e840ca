package graph

import "sort"

// WeakComponents partitions the graph into weakly connected components.
// Members of a component are ordered by node insertion, and components by
// their earliest member.
func (g *Graph) WeakComponents() [][]int64 {
	visited := make(map[int64]bool, len(g.nodeOrder))
	var components [][]int64

	for _, start := range g.nodeOrder {
		if visited[start] {
			continue
		}
		visited[start] = true
		component := []int64{start}
		queue := []int64{start}

		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for _, next := range g.Neighbors(current) {
				if !visited[next] {
					visited[next] = true
					component = append(component, next)
					queue = append(queue, next)
				}
			}
		}

		g.sortByPosition(component)
		components = append(components, component)
	}
	return components
}

// StrongComponents partitions the graph into strongly connected components
// with an iterative Tarjan walk. Isolated nodes and nodes on no cycle come
// out as singletons. Ordering follows WeakComponents.
func (g *Graph) StrongComponents() [][]int64 {
	index := 0
	nodeIndex := make(map[int64]int, len(g.nodeOrder))
	lowLink := make(map[int64]int, len(g.nodeOrder))
	onStack := make(map[int64]bool)
	var stack []int64
	var components [][]int64

	type frame struct {
		node      int64
		succ      []int64
		next      int
		child     int64
		returning bool
	}

	for _, root := range g.nodeOrder {
		if _, seen := nodeIndex[root]; seen {
			continue
		}

		calls := []frame{{node: root, succ: g.Successors(root)}}
		nodeIndex[root], lowLink[root] = index, index
		index++
		stack = append(stack, root)
		onStack[root] = true

		for len(calls) > 0 {
			f := &calls[len(calls)-1]

			if f.returning {
				if lowLink[f.child] < lowLink[f.node] {
					lowLink[f.node] = lowLink[f.child]
				}
				f.returning = false
			}

			pushed := false
			for f.next < len(f.succ) {
				w := f.succ[f.next]
				f.next++
				if _, seen := nodeIndex[w]; !seen {
					f.child, f.returning = w, true
					nodeIndex[w], lowLink[w] = index, index
					index++
					stack = append(stack, w)
					onStack[w] = true
					calls = append(calls, frame{node: w, succ: g.Successors(w)})
					pushed = true
					break
				}
				if onStack[w] && nodeIndex[w] < lowLink[f.node] {
					lowLink[f.node] = nodeIndex[w]
				}
			}
			if pushed {
				continue
			}

			if lowLink[f.node] == nodeIndex[f.node] {
				var component []int64
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					component = append(component, w)
					if w == f.node {
						break
					}
				}
				components = append(components, component)
			}
			calls = calls[:len(calls)-1]
		}
	}

	for _, c := range components {
		g.sortByPosition(c)
	}
	sort.SliceStable(components, func(i, j int) bool {
		return g.position[components[i][0]] < g.position[components[j][0]]
	})
	return components
}

func (g *Graph) sortByPosition(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return g.position[ids[i]] < g.position[ids[j]] })
}
