package ifsched

// cbq-paths.go turns the link-sharing tree into a graph of the gonum graph
// package, with an edge from every parent to each of its children.  A shortest
// path tree rooted at the root agency gives the class path and depth of every node.

import (
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// classGraph returns the tree as a directed graph whose node ids are arena indices
func (rst *ResourceSharingTree) classGraph() graph.Graph {
	clsGraph := simple.NewDirectedGraph()
	for idx := range rst.nodes {
		clsGraph.AddNode(simple.Node(idx))
	}
	for idx, node := range rst.nodes {
		for _, child := range node.children {
			clsGraph.SetEdge(clsGraph.NewEdge(simple.Node(idx), simple.Node(child)))
		}
	}
	return clsGraph
}

// indexPaths computes the shortest path tree from the root, once the tree is complete
func (rst *ResourceSharingTree) indexPaths() {
	rst.spTree = path.DijkstraFrom(simple.Node(0), rst.classGraph())
}

// pathTo returns the arena indices from the root to the node, inclusive
func (rst *ResourceSharingTree) pathTo(idx int) []int {
	nodeSeq, _ := rst.spTree.To(int64(idx))
	rtn := make([]int, 0, len(nodeSeq))
	for _, node := range nodeSeq {
		rtn = append(rtn, int(node.ID()))
	}
	return rtn
}

// ClassPath returns the labels of the nodes from the root to the application
// bound to the priority, joined by "/".  The empty string is returned for an unbound priority
func (rst *ResourceSharingTree) ClassPath(priority int) string {
	appIdx, present := rst.appByPriority[priority]
	if !present {
		return ""
	}
	labels := []string{}
	for _, idx := range rst.pathTo(appIdx) {
		labels = append(labels, rst.nodes[idx].label())
	}
	return strings.Join(labels, "/")
}

// Depth returns the number of edges between the root and the application bound to
// the priority, or -1 for an unbound priority
func (rst *ResourceSharingTree) Depth(priority int) int {
	appIdx, present := rst.appByPriority[priority]
	if !present {
		return -1
	}
	return len(rst.pathTo(appIdx)) - 1
}
