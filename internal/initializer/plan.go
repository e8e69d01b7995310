package initializer

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/roach88/hygiene/internal/eqsys"
)

// CodeUnresolvableCycle is the error code of CycleError.
const CodeUnresolvableCycle = "UNRESOLVABLE_CYCLE"

// CycleError is returned by PlanOrder when the tear heuristic hits its
// limit while cycles remain.
type CycleError struct {
	Units    []string // units still on a cycle
	Tears    []string // streams torn before giving up
	MaxTears int
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: cycle through [%s] remains after %d tear(s) (max %d)",
		CodeUnresolvableCycle, strings.Join(e.Units, ", "), len(e.Tears), e.MaxTears)
}

// Code returns CodeUnresolvableCycle.
func (e *CycleError) Code() string { return CodeUnresolvableCycle }

// Plan is an initialization order together with the streams torn to get
// it.
type Plan struct {
	Order []string `json:"order"`

	// Tears holds every torn stream in declaration order: caller-supplied
	// ones that exist plus those selected by the heuristic.
	Tears []string `json:"tears"`

	// Selected holds the heuristically chosen tears in selection order.
	Selected []string `json:"selected"`

	// Ignored holds caller-supplied tear names that match no stream.
	Ignored []string `json:"ignored,omitempty"`
}

// Torn reports whether stream is in the tear set.
func (p *Plan) Torn(stream string) bool {
	for _, t := range p.Tears {
		if t == stream {
			return true
		}
	}
	return false
}

// PlanOrder tears every cycle of the stream graph and returns a
// topological order of the remaining DAG.
//
// Caller tears are applied first. While cycles remain, one edge is torn in
// each cyclic component per round (see graph.pickTear) and components are
// recomputed. maxTears bounds the number of heuristic tears; zero means
// unlimited. Ties in the order are broken by unit declaration order.
func PlanOrder(topo eqsys.Topology, tears []string, maxTears int) (*Plan, error) {
	g, err := newGraph(topo)
	if err != nil {
		return nil, fmt.Errorf("plan order: %w", err)
	}

	plan := &Plan{Order: []string{}, Tears: []string{}, Selected: []string{}}
	torn := make([]bool, len(g.edges))
	for _, name := range tears {
		e, ok := g.byName[name]
		if !ok {
			plan.Ignored = append(plan.Ignored, name)
			continue
		}
		torn[e] = true
	}

	for {
		comps := g.cyclicComponents(torn)
		if len(comps) == 0 {
			break
		}
		for _, comp := range comps {
			if maxTears > 0 && len(plan.Selected) >= maxTears {
				return nil, &CycleError{
					Units:    g.names(g.remaining(torn)),
					Tears:    plan.Selected,
					MaxTears: maxTears,
				}
			}
			e := g.pickTear(comp, torn)
			torn[e] = true
			plan.Selected = append(plan.Selected, g.edges[e].name)
		}
	}

	for e, ed := range g.edges {
		if torn[e] {
			plan.Tears = append(plan.Tears, ed.name)
		}
	}
	plan.Order = g.names(g.topoSort(torn))
	return plan, nil
}

// topoSort is Kahn's algorithm over non-torn edges with a min-index ready
// queue. It assumes the graph is acyclic under torn.
func (g *graph) topoSort(torn []bool) []int {
	indeg := make([]int, len(g.units))
	for e, ed := range g.edges {
		if !torn[e] {
			indeg[ed.to]++
		}
	}

	ready := &intHeap{}
	for u, d := range indeg {
		if d == 0 {
			heap.Push(ready, u)
		}
	}

	order := make([]int, 0, len(g.units))
	for ready.Len() > 0 {
		u := heap.Pop(ready).(int)
		order = append(order, u)
		for _, e := range g.out[u] {
			if torn[e] {
				continue
			}
			to := g.edges[e].to
			indeg[to]--
			if indeg[to] == 0 {
				heap.Push(ready, to)
			}
		}
	}
	return order
}

// remaining lists units that are still on a cycle.
func (g *graph) remaining(torn []bool) []int {
	var out []int
	for _, comp := range g.cyclicComponents(torn) {
		out = append(out, comp...)
	}
	return out
}

func (g *graph) names(idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.units[i].Name)
	}
	return out
}

type intHeap []int

func (h intHeap) Len() int           { return len(h) }
func (h intHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
