package xref

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	"github.com/objcflow/objcflow/internal/model"
	"github.com/objcflow/objcflow/pkg/analyzer"
)

// Node is a call graph vertex: a local function or an imported symbol.
type Node struct {
	Addr     uint64
	Name     string
	External bool
}

func nodeHash(n Node) uint64 { return n.Addr }

// CallGraph is a directed graph of functions keyed by address.
type CallGraph struct {
	graph.Graph[uint64, Node]
	ba *analyzer.BinaryAnalyzer
}

func (cg *CallGraph) addNode(addr uint64, external bool) error {
	name, ok := cg.ba.SymbolAt(addr)
	if !ok {
		name = fmt.Sprintf("sub_%x", addr)
	}
	attrs := []func(*graph.VertexProperties){graph.VertexAttribute("label", name)}
	if external {
		attrs = append(attrs, graph.VertexAttribute("shape", "box"))
	}
	err := cg.AddVertex(Node{Addr: addr, Name: name, External: external}, attrs...)
	if err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
		return err
	}
	return nil
}

func (cg *CallGraph) addEdge(from, to uint64, attrs ...func(*graph.EdgeProperties)) error {
	err := cg.AddEdge(from, to, attrs...)
	if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return err
	}
	return nil
}

// BuildCallGraph builds the call graph of the indexed call sites. A msgSend
// site gets a dashed edge to every local implementation of its selector.
func BuildCallGraph(ba *analyzer.BinaryAnalyzer, sites []*model.CallSite) (*CallGraph, error) {
	cg := &CallGraph{
		Graph: graph.New(nodeHash, graph.Directed()),
		ba:    ba,
	}
	for _, fn := range ba.Functions() {
		if err := cg.addNode(fn, false); err != nil {
			return nil, err
		}
	}

	for _, site := range sites {
		if err := cg.addNode(site.Caller, false); err != nil {
			return nil, err
		}
		switch site.Kind {
		case model.CallLocal:
			// branches inside the caller are control flow, not calls
			if _, err := cg.Vertex(site.Destination); err != nil || site.Destination == site.Caller {
				continue
			}
			if err := cg.addEdge(site.Caller, site.Destination); err != nil {
				return nil, err
			}
		case model.CallC:
			if err := cg.addNode(site.Destination, true); err != nil {
				return nil, err
			}
			if err := cg.addEdge(site.Caller, site.Destination); err != nil {
				return nil, err
			}
		case model.CallMsgSend:
			if site.Selector == "" {
				continue
			}
			for _, imp := range ba.ImpsForSel(site.Selector) {
				if _, err := cg.Vertex(imp); err != nil {
					continue
				}
				if err := cg.addEdge(site.Caller, imp, graph.EdgeAttribute("style", "dashed"), graph.EdgeAttribute("label", site.Selector)); err != nil {
					return nil, err
				}
			}
		}
	}
	return cg, nil
}

// Callees returns the direct successors of addr, ordered by address.
func (cg *CallGraph) Callees(addr uint64) ([]Node, error) {
	adj, err := cg.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	edges, ok := adj[addr]
	if !ok {
		return nil, fmt.Errorf("%#x is not in the call graph", addr)
	}
	var out []Node
	for to := range edges {
		n, err := cg.Vertex(to)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b Node) int {
		return cmp.Compare(a.Addr, b.Addr)
	})
	return out, nil
}

// Reachable returns every function reachable from addr (itself included) in
// breadth-first order.
func (cg *CallGraph) Reachable(addr uint64) ([]uint64, error) {
	var out []uint64
	if err := graph.BFS(cg.Graph, addr, func(a uint64) bool {
		out = append(out, a)
		return false
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Subgraph returns the part of the graph reachable from addr.
func (cg *CallGraph) Subgraph(addr uint64) (*CallGraph, error) {
	keep, err := cg.Reachable(addr)
	if err != nil {
		return nil, err
	}
	sub := &CallGraph{Graph: graph.New(nodeHash, graph.Directed()), ba: cg.ba}
	for _, a := range keep {
		n, props, err := cg.VertexWithProperties(a)
		if err != nil {
			return nil, err
		}
		if err := sub.AddVertex(n, graph.VertexAttributes(props.Attributes)); err != nil {
			return nil, err
		}
	}
	edges, err := cg.Edges()
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		if _, err := sub.Vertex(e.Source); err != nil {
			continue
		}
		if _, err := sub.Vertex(e.Target); err != nil {
			continue
		}
		if err := sub.AddEdge(e.Source, e.Target, graph.EdgeAttributes(e.Properties.Attributes)); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// WriteDOT renders the graph in Graphviz DOT format.
func (cg *CallGraph) WriteDOT(w io.Writer) error {
	return draw.DOT(cg.Graph, w, draw.GraphAttribute("rankdir", "LR"))
}
