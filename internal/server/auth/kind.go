package auth

// Kind tells access tokens from refresh tokens. Access and Refresh are the
// only valid values; the zero Kind is rejected by Sign and Verify.
type Kind struct {
	name string
}

var (
	Access  = Kind{name: "access"}
	Refresh = Kind{name: "refresh"}
)

func (k Kind) String() string {
	if k.name == "" {
		return "invalid"
	}
	return k.name
}

func (k Kind) valid() bool { return k == Access || k == Refresh }

func kindFromClaim(s string) (Kind, bool) {
	switch s {
	case Access.name:
		return Access, true
	case Refresh.name:
		return Refresh, true
	}
	return Kind{}, false
}
