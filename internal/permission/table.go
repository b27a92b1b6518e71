package permission

// Visibility controls who can discover and read a thread.
type Visibility int

const (
	VisibilityOpen Visibility = iota
	VisibilityClosed
	VisibilitySecret
	VisibilityNestedOpen
	VisibilityThreadSecret
)

// IsOpen reports whether every viewer implicitly sees the thread.
func (v Visibility) IsOpen() bool { return v == VisibilityOpen || v == VisibilityNestedOpen }

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool { return v >= VisibilityOpen && v <= VisibilityThreadSecret }

func (v Visibility) String() string {
	switch v {
	case VisibilityOpen:
		return "open"
	case VisibilityClosed:
		return "closed"
	case VisibilitySecret:
		return "secret"
	case VisibilityNestedOpen:
		return "nested-open"
	case VisibilityThreadSecret:
		return "thread-secret"
	default:
		return "unknown"
	}
}

// EditRule controls whether anonymous viewers may edit.
type EditRule int

const (
	EditAnybody EditRule = iota
	EditLoggedIn
)

// Valid reports whether e is a known edit rule.
func (e EditRule) Valid() bool { return e == EditAnybody || e == EditLoggedIn }

// RoleKind distinguishes an explicit assignment from the thread default.
type RoleKind int

const (
	DefaultRole RoleKind = iota
	ExplicitRole
)

// Rule is the static part of resolution for one (visibility, edit rule, role kind).
type Rule struct {
	// Implicit capabilities granted regardless of role.
	Implicit Mask
	// LoginGated capabilities withheld from anonymous viewers.
	LoginGated Mask
	// Unavailable capabilities never granted through a role of this kind.
	Unavailable Mask
}

var (
	openImplicit = MaskOf(KnowOf, Visible)
	loginGated   = MaskOf(EditEntries, EditThread)
	// A viewer holding an explicit role already joined.
	explicitUnavailable = MaskOf(JoinThread)
)

// Lookup returns the rule for the combination. Unknown visibilities get the
// most restrictive rule.
func Lookup(v Visibility, e EditRule, k RoleKind) Rule {
	var r Rule
	if v.IsOpen() {
		r.Implicit = openImplicit
	}
	if e != EditAnybody {
		r.LoginGated = loginGated
	}
	if k == ExplicitRole {
		r.Unavailable = explicitUnavailable
	}
	return r
}
