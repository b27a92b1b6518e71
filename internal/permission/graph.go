package permission

import (
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/squadcal/internal/errs"
)

// ThreadNode is the permission-relevant part of a thread.
type ThreadNode struct {
	ID            int64
	ParentID      int64 // 0 = top level
	Visibility    Visibility
	EditRule      EditRule
	DefaultRoleID int64
	Roles         map[int64]Mask
}

// Assignment is a user's membership row on a thread. RoleID 0 means the
// user has no explicit role and falls back to the thread default.
type Assignment struct {
	ThreadID int64
	UserID   uuid.UUID
	RoleID   int64
	Visible  bool
}

type node struct {
	ThreadNode
	parent int // arena index, -1 when none or dangling
}

type memberKey struct {
	thread int64
	user   uuid.UUID
}

// Graph is an immutable snapshot of threads and memberships. Parents are
// weak references: a parent id not present in the snapshot is treated as
// top level.
type Graph struct {
	nodes   []node
	index   map[int64]int
	members map[memberKey]Assignment
	byThr   map[int64][]uuid.UUID
}

// NewGraph builds the arena and verifies the parent relation is acyclic.
func NewGraph(threads []ThreadNode, assignments []Assignment) (*Graph, error) {
	g := &Graph{
		nodes:   make([]node, 0, len(threads)),
		index:   make(map[int64]int, len(threads)),
		members: make(map[memberKey]Assignment, len(assignments)),
		byThr:   make(map[int64][]uuid.UUID),
	}
	for _, t := range threads {
		if _, dup := g.index[t.ID]; dup {
			return nil, fmt.Errorf("thread %d: duplicate in snapshot", t.ID)
		}
		g.index[t.ID] = len(g.nodes)
		g.nodes = append(g.nodes, node{ThreadNode: t, parent: -1})
	}
	for i := range g.nodes {
		if p, ok := g.index[g.nodes[i].ParentID]; ok && g.nodes[i].ParentID != 0 {
			g.nodes[i].parent = p
		}
	}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	for _, a := range assignments {
		if _, ok := g.index[a.ThreadID]; !ok {
			continue
		}
		k := memberKey{thread: a.ThreadID, user: a.UserID}
		if _, seen := g.members[k]; !seen {
			g.byThr[a.ThreadID] = append(g.byThr[a.ThreadID], a.UserID)
		}
		g.members[k] = a
	}
	return g, nil
}

func (g *Graph) checkAcyclic() error {
	const (
		white = iota
		grey
		black
	)
	color := make([]uint8, len(g.nodes))
	for start := range g.nodes {
		if color[start] != white {
			continue
		}
		var path []int
		i := start
		for i >= 0 && color[i] == white {
			color[i] = grey
			path = append(path, i)
			i = g.nodes[i].parent
		}
		if i >= 0 && color[i] == grey {
			return fmt.Errorf("thread %d: %w", g.nodes[i].ID, errs.ErrHierarchyCycle)
		}
		for _, p := range path {
			color[p] = black
		}
	}
	return nil
}

// Thread returns the node for id.
func (g *Graph) Thread(id int64) (ThreadNode, bool) {
	i, ok := g.index[id]
	if !ok {
		return ThreadNode{}, false
	}
	return g.nodes[i].ThreadNode, true
}

// ThreadIDs returns all thread ids in snapshot order.
func (g *Graph) ThreadIDs() []int64 {
	out := make([]int64, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.ID
	}
	return out
}

// Members returns membership rows of a thread in snapshot order.
func (g *Graph) Members(threadID int64) []Assignment {
	users := g.byThr[threadID]
	out := make([]Assignment, 0, len(users))
	for _, u := range users {
		out = append(out, g.members[memberKey{thread: threadID, user: u}])
	}
	return out
}

// Membership returns the viewer's membership row on a thread.
func (g *Graph) Membership(threadID int64, v Viewer) (Assignment, bool) {
	if v.Anonymous {
		return Assignment{}, false
	}
	a, ok := g.members[memberKey{thread: threadID, user: v.UserID}]
	return a, ok
}

// Ancestors returns the parent chain of a thread, nearest first.
func (g *Graph) Ancestors(threadID int64) []int64 {
	i, ok := g.index[threadID]
	if !ok {
		return nil
	}
	var out []int64
	for p := g.nodes[i].parent; p >= 0; p = g.nodes[p].parent {
		out = append(out, g.nodes[p].ID)
	}
	return out
}
