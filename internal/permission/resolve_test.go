package permission

import (
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/squadcal/internal/errs"
)

const (
	guestRole  int64 = 100
	memberRole int64 = 101
	adminRole  int64 = 102
)

func thread(id, parent int64, vis Visibility, edit EditRule, guest Mask) ThreadNode {
	return ThreadNode{
		ID:            id,
		ParentID:      parent,
		Visibility:    vis,
		EditRule:      edit,
		DefaultRoleID: guestRole + id*10,
		Roles: map[int64]Mask{
			guestRole + id*10:  guest,
			memberRole + id*10: MaskOf(KnowOf, Visible, Voiced, EditEntries, LeaveThread, JoinThread),
			adminRole + id*10:  AllMask,
		},
	}
}

func mustGraph(t *testing.T, threads []ThreadNode, as []Assignment) *Graph {
	t.Helper()
	g, err := NewGraph(threads, as)
	require.NoError(t, err)
	return g
}

func TestResolve_OpenThreadsGrantKnowOfAndVisible(t *testing.T) {
	t.Parallel()
	for _, vis := range []Visibility{VisibilityOpen, VisibilityNestedOpen} {
		g := mustGraph(t, []ThreadNode{thread(1, 0, vis, EditAnybody, 0)}, nil)

		for _, v := range []Viewer{AnonymousViewer(), LoggedIn(uuid.Must(uuid.NewV4()))} {
			s := g.Resolve(1, v)
			require.True(t, s.Has(KnowOf), vis.String())
			require.True(t, s.Has(Visible), vis.String())
			require.Equal(t, SourceOpenVisibility, s[KnowOf].Source)
			require.False(t, s.Has(Voiced))
		}
	}
}

func TestResolve_ClosedThreadWithoutRoleFollowsDefault(t *testing.T) {
	t.Parallel()
	guest := MaskOf(KnowOf, JoinThread)
	g := mustGraph(t, []ThreadNode{thread(1, 0, VisibilityClosed, EditAnybody, guest)}, nil)

	s := g.Resolve(1, LoggedIn(uuid.Must(uuid.NewV4())))
	require.Equal(t, guest, s.Mask())
	require.Equal(t, SourceRole, s[KnowOf].Source)
}

func TestResolve_SecretThreadHiddenFromStrangers(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, []ThreadNode{thread(1, 0, VisibilitySecret, EditAnybody, 0)}, nil)

	s := g.Resolve(1, LoggedIn(uuid.Must(uuid.NewV4())))
	require.Equal(t, Mask(0), s.Mask())
}

func TestResolve_ExplicitRoleSeedsSet(t *testing.T) {
	t.Parallel()
	user := uuid.Must(uuid.NewV4())
	th := thread(1, 0, VisibilityClosed, EditAnybody, MaskOf(KnowOf))
	g := mustGraph(t, []ThreadNode{th}, []Assignment{{ThreadID: 1, UserID: user, RoleID: memberRole + 10, Visible: true}})

	s := g.Resolve(1, LoggedIn(user))
	require.True(t, s.Has(Voiced))
	require.True(t, s.Has(EditEntries))
	require.True(t, s.Has(LeaveThread))
	// already joined
	require.False(t, s.Has(JoinThread))
}

func TestResolve_ExplicitRoleBeatsOpenDefaults(t *testing.T) {
	t.Parallel()
	user := uuid.Must(uuid.NewV4())
	th := thread(1, 0, VisibilityOpen, EditAnybody, MaskOf(KnowOf, Visible, Voiced, EditEntries))
	th.Roles[555] = MaskOf(LeaveThread)
	g := mustGraph(t, []ThreadNode{th}, []Assignment{{ThreadID: 1, UserID: user, RoleID: 555, Visible: true}})

	s := g.Resolve(1, LoggedIn(user))
	require.True(t, s.Has(KnowOf))
	require.True(t, s.Has(Visible))
	require.False(t, s.Has(Voiced))
	require.False(t, s.Has(EditEntries))
	require.True(t, s.Has(LeaveThread))
}

func TestResolve_LoggedInOnlyGatesEditsForAnonymous(t *testing.T) {
	t.Parallel()
	guest := MaskOf(KnowOf, Visible, Voiced, EditEntries, EditThread)
	g := mustGraph(t, []ThreadNode{thread(1, 0, VisibilityOpen, EditLoggedIn, guest)}, nil)

	anon := g.Resolve(1, AnonymousViewer())
	require.False(t, anon.Has(EditEntries))
	require.False(t, anon.Has(EditThread))
	require.True(t, anon.Has(Voiced))

	user := g.Resolve(1, LoggedIn(uuid.Must(uuid.NewV4())))
	require.True(t, user.Has(EditEntries))
	require.True(t, user.Has(EditThread))
}

func TestResolve_AncestorAdminSynthesizesKnowOf(t *testing.T) {
	t.Parallel()
	admin := uuid.Must(uuid.NewV4())
	threads := []ThreadNode{
		thread(1, 0, VisibilityClosed, EditAnybody, 0),
		thread(2, 1, VisibilitySecret, EditAnybody, 0),
		thread(3, 2, VisibilitySecret, EditAnybody, 0),
	}
	g := mustGraph(t, threads, []Assignment{{ThreadID: 1, UserID: admin, RoleID: adminRole + 10, Visible: true}})

	for _, id := range []int64{2, 3} {
		s := g.Resolve(id, LoggedIn(admin))
		require.True(t, s.Has(KnowOf), "thread %d", id)
		require.Equal(t, SourceAncestor, s[KnowOf].Source)
		require.False(t, s.Has(Visible))
		require.False(t, s.Has(ChangeRole))
	}

	// one-directional
	child := uuid.Must(uuid.NewV4())
	g = mustGraph(t, threads, []Assignment{{ThreadID: 3, UserID: child, RoleID: adminRole + 30, Visible: true}})
	require.False(t, g.Resolve(1, LoggedIn(child)).Has(KnowOf))
	require.False(t, g.Resolve(2, LoggedIn(child)).Has(KnowOf))
}

func TestResolve_AncestorDefaultRoleCounts(t *testing.T) {
	t.Parallel()
	threads := []ThreadNode{
		thread(1, 0, VisibilityClosed, EditAnybody, MaskOf(KnowOf, ChangeRole)),
		thread(2, 1, VisibilitySecret, EditAnybody, 0),
	}
	g := mustGraph(t, threads, nil)

	s := g.Resolve(2, LoggedIn(uuid.Must(uuid.NewV4())))
	require.True(t, s.Has(KnowOf))
	require.Equal(t, SourceAncestor, s[KnowOf].Source)
	require.False(t, g.Resolve(2, AnonymousViewer()).Has(KnowOf))

	// an explicit role without CHANGE_ROLE replaces the default
	user := uuid.Must(uuid.NewV4())
	g = mustGraph(t, threads, []Assignment{{ThreadID: 1, UserID: user, RoleID: memberRole + 10, Visible: true}})
	require.False(t, g.Resolve(2, LoggedIn(user)).Has(KnowOf))
}

func TestResolve_AncestorRuleSkippedForVisibleMembers(t *testing.T) {
	t.Parallel()
	user := uuid.Must(uuid.NewV4())
	threads := []ThreadNode{
		thread(1, 0, VisibilityClosed, EditAnybody, 0),
		thread(2, 1, VisibilitySecret, EditAnybody, 0),
	}
	threads[1].Roles[777] = 0
	g := mustGraph(t, threads, []Assignment{
		{ThreadID: 1, UserID: user, RoleID: adminRole + 10, Visible: true},
		{ThreadID: 2, UserID: user, RoleID: 777, Visible: true},
	})
	require.False(t, g.Resolve(2, LoggedIn(user)).Has(KnowOf))
}

func TestResolve_FailsClosed(t *testing.T) {
	t.Parallel()
	user := uuid.Must(uuid.NewV4())
	g := mustGraph(t, []ThreadNode{thread(1, 0, VisibilityOpen, EditAnybody, AllMask)},
		[]Assignment{{ThreadID: 1, UserID: user, RoleID: 999, Visible: true}})

	require.Equal(t, Set{}, g.Resolve(42, LoggedIn(user)))
	require.Equal(t, Set{}, g.Resolve(1, LoggedIn(user)))
}

func TestNewGraph_DetectsCycle(t *testing.T) {
	t.Parallel()
	_, err := NewGraph([]ThreadNode{
		thread(1, 3, VisibilityOpen, EditAnybody, 0),
		thread(2, 1, VisibilityOpen, EditAnybody, 0),
		thread(3, 2, VisibilityOpen, EditAnybody, 0),
	}, nil)
	require.ErrorIs(t, err, errs.ErrHierarchyCycle)

	_, err = NewGraph([]ThreadNode{thread(1, 1, VisibilityOpen, EditAnybody, 0)}, nil)
	require.ErrorIs(t, err, errs.ErrHierarchyCycle)
}

func TestNewGraph_DanglingParentIsTopLevel(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, []ThreadNode{thread(2, 1, VisibilityOpen, EditAnybody, 0)}, nil)
	require.Empty(t, g.Ancestors(2))
}

func TestGraph_MembersAndAncestors(t *testing.T) {
	t.Parallel()
	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	g := mustGraph(t, []ThreadNode{
		thread(1, 0, VisibilityOpen, EditAnybody, 0),
		thread(2, 1, VisibilityOpen, EditAnybody, 0),
		thread(3, 2, VisibilityOpen, EditAnybody, 0),
	}, []Assignment{
		{ThreadID: 2, UserID: a, Visible: true},
		{ThreadID: 2, UserID: b},
		{ThreadID: 99, UserID: a},
	})
	require.Equal(t, []int64{2, 1}, g.Ancestors(3))
	ms := g.Members(2)
	require.Len(t, ms, 2)
	require.Equal(t, a, ms[0].UserID)
	require.Empty(t, g.Members(99))
}

func TestLookup(t *testing.T) {
	t.Parallel()
	r := Lookup(VisibilityThreadSecret, EditLoggedIn, ExplicitRole)
	require.Equal(t, Mask(0), r.Implicit)
	require.True(t, r.LoginGated.Has(EditEntries))
	require.True(t, r.Unavailable.Has(JoinThread))

	r = Lookup(VisibilityNestedOpen, EditAnybody, DefaultRole)
	require.True(t, r.Implicit.Has(Visible))
	require.Equal(t, Mask(0), r.LoginGated)
	require.Equal(t, Mask(0), r.Unavailable)
}

func TestParseCapability(t *testing.T) {
	t.Parallel()
	for _, c := range Capabilities() {
		got, ok := ParseCapability(c.String())
		require.True(t, ok)
		require.Equal(t, c, got)
	}
	_, ok := ParseCapability("fly")
	require.False(t, ok)
	require.True(t, AllMask.Valid())
	require.False(t, Mask(1<<20).Valid())
}
