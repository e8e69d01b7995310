package initializer

import (
	"fmt"
	"slices"

	"github.com/roach88/hygiene/internal/eqsys"
)

// edge is a stream between unit indices. Edge index equals stream
// declaration index.
type edge struct {
	name     string
	from, to int
	stream   eqsys.Stream
}

// graph is the unit/stream topology over arena indices. Unit index equals
// unit declaration index.
type graph struct {
	units  []eqsys.Unit
	index  map[string]int
	edges  []edge
	byName map[string]int
	out    [][]int // unit -> outgoing edge indices
	in     [][]int // unit -> incoming edge indices

	feeds map[eqsys.Port]int // inlet port -> edge
}

func newGraph(topo eqsys.Topology) (*graph, error) {
	g := &graph{
		units:  topo.Units(),
		index:  make(map[string]int),
		byName: make(map[string]int),
		feeds:  make(map[eqsys.Port]int),
	}
	for i, u := range g.units {
		g.index[u.Name] = i
	}
	g.out = make([][]int, len(g.units))
	g.in = make([][]int, len(g.units))

	for i, s := range topo.Streams() {
		from, ok := g.index[s.From.Unit]
		if !ok {
			return nil, fmt.Errorf("stream %s: %w", s.Name, eqsys.NotFound("unit", s.From.Unit))
		}
		to, ok := g.index[s.To.Unit]
		if !ok {
			return nil, fmt.Errorf("stream %s: %w", s.Name, eqsys.NotFound("unit", s.To.Unit))
		}
		g.edges = append(g.edges, edge{name: s.Name, from: from, to: to, stream: s})
		g.byName[s.Name] = i
		g.out[from] = append(g.out[from], i)
		g.in[to] = append(g.in[to], i)
		g.feeds[s.To] = i
	}
	return g, nil
}

// cyclicComponents returns the strongly connected components that contain
// a cycle over non-torn edges: components of two or more units, and single
// units with a self-loop. Members are sorted by unit index and components
// by their first member.
//
// Tarjan's algorithm with an explicit stack, so deep flowsheets cannot
// exhaust the goroutine stack.
func (g *graph) cyclicComponents(torn []bool) [][]int {
	n := len(g.units)
	const unvisited = -1
	var (
		counter int
		index   = make([]int, n)
		lowlink = make([]int, n)
		onStack = make([]bool, n)
		stack   []int
		comps   [][]int
	)
	for i := range index {
		index[i] = unvisited
	}

	type frame struct {
		v    int
		next int // position in g.out[v]
	}

	for root := 0; root < n; root++ {
		if index[root] != unvisited {
			continue
		}
		call := []frame{{v: root}}
		index[root], lowlink[root] = counter, counter
		counter++
		stack = append(stack, root)
		onStack[root] = true

		for len(call) > 0 {
			top := &call[len(call)-1]
			v := top.v

			if top.next < len(g.out[v]) {
				e := g.out[v][top.next]
				top.next++
				if torn[e] {
					continue
				}
				w := g.edges[e].to
				if index[w] == unvisited {
					index[w], lowlink[w] = counter, counter
					counter++
					stack = append(stack, w)
					onStack[w] = true
					call = append(call, frame{v: w})
				} else if onStack[w] {
					lowlink[v] = min(lowlink[v], index[w])
				}
				continue
			}

			// All successors of v visited.
			if lowlink[v] == index[v] {
				var comp []int
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp = append(comp, w)
					if w == v {
						break
					}
				}
				if len(comp) > 1 || g.selfLoop(v, torn) {
					slices.Sort(comp)
					comps = append(comps, comp)
				}
			}
			call = call[:len(call)-1]
			if len(call) > 0 {
				parent := call[len(call)-1].v
				lowlink[parent] = min(lowlink[parent], lowlink[v])
			}
		}
	}

	slices.SortFunc(comps, func(a, b []int) int { return a[0] - b[0] })
	return comps
}

func (g *graph) selfLoop(v int, torn []bool) bool {
	for _, e := range g.out[v] {
		if !torn[e] && g.edges[e].to == v {
			return true
		}
	}
	return false
}

// pickTear chooses one non-torn edge inside comp to tear. Candidates are
// ranked by, in order: lowest fan-in of the destination from inside the
// component; most destination inlets fed from outside the component (or
// not fed at all); latest stream declaration.
func (g *graph) pickTear(comp []int, torn []bool) int {
	member := make(map[int]bool, len(comp))
	for _, u := range comp {
		member[u] = true
	}

	best, bestFanIn, bestExternal := -1, 0, 0
	for e, ed := range g.edges {
		if torn[e] || !member[ed.from] || !member[ed.to] {
			continue
		}
		fanIn := 0
		for _, ie := range g.in[ed.to] {
			if !torn[ie] && member[g.edges[ie].from] {
				fanIn++
			}
		}
		external := len(g.units[ed.to].Inlets) - fanIn

		switch {
		case best < 0,
			fanIn < bestFanIn,
			fanIn == bestFanIn && external > bestExternal,
			fanIn == bestFanIn && external == bestExternal && e > best:
			best, bestFanIn, bestExternal = e, fanIn, external
		}
	}
	return best
}
