package compiler

import (
	"fmt"
	"slices"
	"strings"
)

// CallCycle is a group of functions that reach themselves through calls.
// Recursion cannot be inlined per call site, so every cycle is an error.
type CallCycle struct {
	Path    []string `json:"path"` // ["f", "g", "f"]
	Message string   `json:"message"`
}

// callGraph maps a function to the functions its body calls, in source order.
type callGraph map[string][]string

// AnalyzeCalls orders functions so every callee precedes its callers and
// reports the recursive cycles.
//
// The algorithm:
//  1. Tarjan's algorithm finds strongly connected components. Components
//     are emitted after every component they reach, so callees come first.
//  2. Each component with more than one member, or a self-call, is a cycle.
//
// Functions are visited in name order and calls in source order, so the
// result is deterministic.
func AnalyzeCalls(calls map[string][]string) (order []string, cycles []CallCycle) {
	graph := callGraph(calls)
	for _, scc := range tarjanSCC(graph) {
		order = append(order, scc...)
		if len(scc) > 1 || graph.hasSelfCall(scc[0]) {
			cycles = append(cycles, cycleFromSCC(scc, graph))
		}
	}
	return order, cycles
}

func (g callGraph) hasSelfCall(fn string) bool {
	return slices.Contains(g[fn], fn)
}

// tarjanSCC returns the strongly connected components of graph, callees
// first. Calls to names that are not functions of the graph are ignored.
func tarjanSCC(graph callGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, known := graph[w]; !known {
				continue
			}
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root: pop its component
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	names := make([]string, 0, len(graph))
	for name := range graph {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if _, visited := indices[name]; !visited {
			strongConnect(name)
		}
	}

	return sccs
}

func cycleFromSCC(scc []string, graph callGraph) CallCycle {
	if len(scc) == 1 {
		fn := scc[0]
		return CallCycle{
			Path:    []string{fn, fn},
			Message: fmt.Sprintf("function %s calls itself", fn),
		}
	}
	path := cyclePath(scc, graph)
	return CallCycle{
		Path:    path,
		Message: fmt.Sprintf("recursive calls: %s", strings.Join(path, " -> ")),
	}
}

// cyclePath follows calls inside the component from its first member until
// it returns to it.
func cyclePath(scc []string, graph callGraph) []string {
	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		for _, callee := range graph[current] {
			if slices.Contains(scc, callee) && (!visited[callee] || callee == start) {
				next = callee
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		visited[next] = true
		current = next
	}
	return path
}
