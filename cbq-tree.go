package ifsched

// cbq-tree.go holds the link-sharing tree of class-based queueing.  Interior
// nodes (agencies) are traffic aggregates with a share of the link, leaves
// (applications) are bound one to one to scheduler queues by priority.  Nodes
// live in an arena and refer to each other by index; a tree is built once from
// the link-sharing text and is replaced whole, never restructured.

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph/path"
)

// Estimator is the rate estimation state of a tree node
type Estimator struct {
	LastServiceTime  float64
	TimeToSend       float64
	IsActive         bool
	AvgIdle          float64
	PrevAvgIdle      float64
	MaxAvgIdle       float64
	NumPktToTransmit int
	Suspended        bool
}

// ResourceSharingNode is an agency or an application of the link-sharing tree
type ResourceSharingNode struct {
	IsAgency  bool
	Name      string // agencies only
	Weight    float64
	Priority  int // applications only
	Borrow    bool
	Efficient bool

	parent   int // -1 at the root
	children []int

	Est Estimator
}

// Parent returns the arena index of the node's parent, -1 for the root
func (rsn *ResourceSharingNode) Parent() int {
	return rsn.parent
}

// Children returns the arena indices of the node's children, in configuration order
func (rsn *ResourceSharingNode) Children() []int {
	return rsn.children
}

// label is how the node is named in class paths
func (rsn *ResourceSharingNode) label() string {
	if rsn.IsAgency {
		return rsn.Name
	}
	return strconv.Itoa(rsn.Priority)
}

// ResourceSharingTree is the arena of nodes; index 0 is the root
type ResourceSharingTree struct {
	nodes         []ResourceSharingNode
	agencyByName  map[string]int
	appByPriority map[int]int

	// shortest path tree from the root, over the parent to child edges
	spTree path.Shortest
}

func createResourceSharingTree() *ResourceSharingTree {
	rst := new(ResourceSharingTree)
	rst.nodes = make([]ResourceSharingNode, 0)
	rst.agencyByName = make(map[string]int)
	rst.appByPriority = make(map[int]int)
	return rst
}

// Len returns the number of nodes
func (rst *ResourceSharingTree) Len() int {
	return len(rst.nodes)
}

// Node returns the node at the arena index
func (rst *ResourceSharingTree) Node(idx int) *ResourceSharingNode {
	return &rst.nodes[idx]
}

// Root returns the root node
func (rst *ResourceSharingTree) Root() *ResourceSharingNode {
	return &rst.nodes[0]
}

// Application returns the arena index of the application bound to the priority
func (rst *ResourceSharingTree) Application(priority int) (int, bool) {
	idx, present := rst.appByPriority[priority]
	return idx, present
}

// Agency returns the arena index of the named agency
func (rst *ResourceSharingTree) Agency(name string) (int, bool) {
	idx, present := rst.agencyByName[name]
	return idx, present
}

// NumApplications returns the number of leaves
func (rst *ResourceSharingTree) NumApplications() int {
	return len(rst.appByPriority)
}

// ApplicationPriorities returns the priorities bound to applications, ascending
func (rst *ResourceSharingTree) ApplicationPriorities() []int {
	rtn := make([]int, 0, len(rst.appByPriority))
	for priority := range rst.appByPriority {
		rtn = append(rtn, priority)
	}
	slices.Sort(rtn)
	return rtn
}

// addRoot creates the root agency, which owns the whole link
func (rst *ResourceSharingTree) addRoot(name string) int {
	rst.nodes = append(rst.nodes, ResourceSharingNode{IsAgency: true, Name: name, Weight: 1.0,
		Priority: AllPriorities, parent: -1, children: []int{}})
	rst.agencyByName[name] = 0
	return 0
}

// addChild attaches a node under parent and returns its index
func (rst *ResourceSharingTree) addChild(parent int, node ResourceSharingNode) int {
	node.parent = parent
	node.children = []int{}
	idx := len(rst.nodes)
	rst.nodes = append(rst.nodes, node)
	rst.nodes[parent].children = append(rst.nodes[parent].children, idx)
	if node.IsAgency {
		rst.agencyByName[node.Name] = idx
	} else {
		rst.appByPriority[node.Priority] = idx
	}
	return idx
}

// activate marks the node and all of its ancestors active
func (rst *ResourceSharingTree) activate(idx int) {
	for idx > -1 {
		rst.nodes[idx].Est.IsActive = true
		idx = rst.nodes[idx].parent
	}
}

// deactivate marks the node inactive, and continues up the tree for as long as
// the node just deactivated has no active sibling
func (rst *ResourceSharingTree) deactivate(idx int) {
	for idx > -1 {
		rst.nodes[idx].Est.IsActive = false
		parent := rst.nodes[idx].parent
		if parent < 0 {
			return
		}
		for _, sibling := range rst.nodes[parent].children {
			if rst.nodes[sibling].Est.IsActive {
				return
			}
		}
		idx = parent
	}
}

// FractionalBandwidth is the share of the link a borrowing node may use now.  The node's
// weight is scaled up by the ratio of the weight of all its siblings to the weight of the
// active ones, and below the top level is further divided by the active weight among its
// parent's siblings
func (rst *ResourceSharingTree) FractionalBandwidth(idx int) float64 {
	node := &rst.nodes[idx]
	if node.parent < 0 {
		return 1.0
	}
	parent := &rst.nodes[node.parent]

	sumWeight, sumActiveWeight := 0.0, 0.0
	for _, sibling := range parent.children {
		sumWeight += rst.nodes[sibling].Weight
		if rst.nodes[sibling].Est.IsActive {
			sumActiveWeight += rst.nodes[sibling].Weight
		}
	}

	// a node asking for service counts itself as active
	if !node.Est.IsActive {
		sumActiveWeight += node.Weight
	}
	fractionBW := (node.Weight * sumWeight) / sumActiveWeight

	if parent.parent > -1 {
		sumActiveAncestorWeight := 0.0
		for _, uncle := range rst.nodes[parent.parent].children {
			if rst.nodes[uncle].Est.IsActive {
				sumActiveAncestorWeight += rst.nodes[uncle].Weight
			}
		}
		if sumActiveAncestorWeight > 0.0 {
			fractionBW /= sumActiveAncestorWeight
		}
	}
	return fractionBW
}

// lineScope tracks how closely the lines read so far match the node and interface
type lineScope struct {
	nodeFound   bool // some line named the node
	intrfcFound bool // some line named the interface

	// the fields named by the lines the current tree was built from
	treeNode   bool
	treeIntrfc bool
}

// admit reports whether a matching line is used, and whether it discards the tree
// built so far.  Once a line names the node, later lines with ANY for the node are
// skipped, and likewise for the interface.  A used line that names a field the
// current tree's lines left as ANY starts a new tree
func (ls *lineScope) admit(nodeSpecific, intrfcSpecific bool) (use bool, rebuild bool) {
	if (!nodeSpecific && ls.nodeFound) || (!intrfcSpecific && ls.intrfcFound) {
		return false, false
	}
	ls.nodeFound = ls.nodeFound || nodeSpecific
	ls.intrfcFound = ls.intrfcFound || intrfcSpecific

	rebuild = (nodeSpecific && !ls.treeNode) || (intrfcSpecific && !ls.treeIntrfc)
	ls.treeNode, ls.treeIntrfc = nodeSpecific, intrfcSpecific
	return true, rebuild
}

// ReadResourceSharingStr builds the link-sharing tree for interface intrfcIdx of node nodeID.
// Each line is
//
//	<nodeId|ANY> <interfaceIndex|ANY> <agency> [, <id> <weight> <borrow 0|1> <efficient 0|1>]*
//
// A bare name selects an agency (creating the root if there is none yet) as the parent of
// the four-field children that follow it.  A numeric id makes an application for that queue
// priority, otherwise the child is an agency.  Lines for other nodes or interfaces are skipped.
// After a line names the node (or the interface), later lines with ANY in that field are
// skipped, and a line naming a field the earlier lines left as ANY discards the tree they built.
// numIntrfcs bounds the interface index when positive.
func ReadResourceSharingStr(lines []string, nodeID, intrfcIdx, numIntrfcs int) (*ResourceSharingTree, error) {
	rst := createResourceSharingTree()
	scope := lineScope{}

	for lineNo, line := range lines {
		text := strings.TrimSpace(line)
		if len(text) == 0 || strings.HasPrefix(text, "#") {
			continue
		}
		words := strings.Fields(text)
		if len(words) < 3 {
			return nil, errors.Errorf("link-sharing line %d: expected <node> <interface> <agency> ...", lineNo+1)
		}

		nodeSpecific := words[0] != AnyMatch
		if nodeSpecific {
			id, err := strconv.Atoi(words[0])
			if err != nil {
				return nil, errors.Errorf("link-sharing line %d: first field %q should be node id or ANY", lineNo+1, words[0])
			}
			if id != nodeID {
				continue
			}
		}

		intrfcSpecific := words[1] != AnyMatch
		if intrfcSpecific {
			idx, err := strconv.Atoi(words[1])
			if err != nil || idx < 0 || (numIntrfcs > 0 && idx >= numIntrfcs) {
				return nil, errors.Errorf("link-sharing line %d: second field %q should be valid interface index or ANY",
					lineNo+1, words[1])
			}
			if idx != intrfcIdx {
				continue
			}
		}

		use, rebuild := scope.admit(nodeSpecific, intrfcSpecific)
		if !use {
			continue
		}
		if rebuild && rst.Len() > 0 {
			logger.Debug("link-sharing tree rebuilt by more specific line", zap.Int("line", lineNo+1))
			rst = createResourceSharingTree()
		}

		rest := strings.TrimSpace(text[len(words[0]):])
		rest = strings.TrimSpace(rest[len(words[1]):])
		err := rst.readTokens(rest, lineNo+1)
		if err != nil {
			return nil, err
		}
	}

	if rst.Len() == 0 {
		return nil, errors.Errorf("no link-sharing structure for node %d interface %d", nodeID, intrfcIdx)
	}
	rst.indexPaths()
	return rst, nil
}

// readTokens reads the comma separated tokens of one line into the tree
func (rst *ResourceSharingTree) readTokens(rest string, lineNo int) error {
	ancestor := -1
	for _, token := range strings.Split(rest, ",") {
		fields := strings.Fields(token)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 1 && len(fields) != 4 {
			return errors.Errorf("link-sharing line %d: token %q should be <agency name> or <id> <weight> <borrow> <efficient>",
				lineNo, strings.TrimSpace(token))
		}
		ident := fields[0]
		isAgency := !unicode.IsDigit(rune(ident[0]))

		if len(fields) == 1 {
			if !isAgency {
				return errors.Errorf("link-sharing line %d: application %s needs weight, borrow and efficient", lineNo, ident)
			}
			if rst.Len() == 0 {
				ancestor = rst.addRoot(ident)
				continue
			}
			idx, present := rst.agencyByName[ident]
			if !present {
				return errors.Errorf("link-sharing line %d: agency %s not defined", lineNo, ident)
			}
			ancestor = idx
			continue
		}

		if ancestor < 0 {
			return errors.Errorf("link-sharing line %d: %s has no parent agency", lineNo, ident)
		}
		node, err := parseChildToken(fields, isAgency, lineNo)
		if err != nil {
			return err
		}
		if isAgency {
			if _, present := rst.agencyByName[node.Name]; present {
				return errors.Errorf("link-sharing line %d: agency %s defined twice", lineNo, node.Name)
			}
		} else if _, present := rst.appByPriority[node.Priority]; present {
			return errors.Errorf("link-sharing line %d: application for priority %d defined twice", lineNo, node.Priority)
		}
		rst.addChild(ancestor, node)
	}
	return nil
}

// parseChildToken reads <id> <weight> <borrow> <efficient>
func parseChildToken(fields []string, isAgency bool, lineNo int) (ResourceSharingNode, error) {
	node := ResourceSharingNode{IsAgency: isAgency, Priority: AllPriorities}
	if isAgency {
		node.Name = fields[0]
	} else {
		priority, err := strconv.Atoi(fields[0])
		if err != nil {
			return node, errors.Wrapf(err, "link-sharing line %d: application id", lineNo)
		}
		node.Priority = priority
	}

	weight, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return node, errors.Wrapf(err, "link-sharing line %d: weight of %s", lineNo, fields[0])
	}
	if weight <= 0.0 || weight > 1.0 {
		return node, errors.Errorf("link-sharing line %d: weight %v of %s outside (0,1]", lineNo, weight, fields[0])
	}
	node.Weight = weight

	flags := []bool{false, false}
	for idx, field := range fields[2:] {
		switch field {
		case "0":
		case "1":
			flags[idx] = true
		default:
			return node, errors.Errorf("link-sharing line %d: borrow and efficient of %s are 0 or 1, not %s",
				lineNo, fields[0], field)
		}
	}
	node.Borrow, node.Efficient = flags[0], flags[1]
	return node, nil
}
