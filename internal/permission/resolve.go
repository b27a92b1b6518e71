package permission

// Resolve computes the viewer's capabilities on a thread. Unknown threads
// and role ids missing from the thread resolve to the empty set.
func (g *Graph) Resolve(threadID int64, v Viewer) Set {
	i, ok := g.index[threadID]
	if !ok {
		return Set{}
	}
	s, ok := g.roleGrants(i, v)
	if !ok {
		return Set{}
	}

	a, member := g.Membership(threadID, v)
	if (!member || !a.Visible) && !s.Has(KnowOf) && g.ancestorAdmin(i, v) {
		s.grant(KnowOf, SourceAncestor)
	}
	return s
}

// roleGrants applies the static rule table and the viewer's role. ok is
// false when the referenced role does not exist on the thread.
func (g *Graph) roleGrants(i int, v Viewer) (Set, bool) {
	n := g.nodes[i]

	kind := DefaultRole
	roleID := n.DefaultRoleID
	if a, ok := g.Membership(n.ID, v); ok && a.RoleID != 0 {
		kind = ExplicitRole
		roleID = a.RoleID
	}
	mask, ok := n.Roles[roleID]
	if !ok {
		return Set{}, false
	}

	rule := Lookup(n.Visibility, n.EditRule, kind)
	var s Set
	for c := Capability(0); c < numCapabilities; c++ {
		switch {
		case rule.Implicit.Has(c):
			s.grant(c, SourceOpenVisibility)
		case mask.Has(c) && !rule.Unavailable.Has(c):
			if v.Anonymous && rule.LoginGated.Has(c) {
				continue
			}
			s.grant(c, SourceRole)
		}
	}
	return s, true
}

// ancestorAdmin reports whether the viewer's effective role on any ancestor
// grants CHANGE_ROLE. The ancestor's default role counts for logged-in
// viewers without an explicit role there.
func (g *Graph) ancestorAdmin(i int, v Viewer) bool {
	if v.Anonymous {
		return false
	}
	for p := g.nodes[i].parent; p >= 0; p = g.nodes[p].parent {
		s, ok := g.roleGrants(p, v)
		if ok && s[ChangeRole].Granted && s[ChangeRole].Source == SourceRole {
			return true
		}
	}
	return false
}
