// Package navigation decides which top-level route the client shows.
//
// Resolve is a pure function of the session and profile-check state. The
// Coordinator keeps that state current by watching the session store and
// running profile checks as the signed-in user changes.
package navigation

import "github.com/dgellow/medfix/internal/role"

// Route is a top-level destination.
type Route string

const (
	Auth              Route = "Auth"
	CompleteProfile   Route = "CompleteProfile"
	EngineerDashboard Route = "EngineerDashboard"
	Doctor            Route = "Doctor"
	MainApp           Route = "MainApp"
)

// State is everything Resolve looks at.
type State struct {
	IsAuthenticated   bool
	ProfileChecked    bool
	IsProfileComplete bool
	Role              string
}

// Decision is either a route or, while the profile check is pending, Loading
// with an empty Route.
type Decision struct {
	Route   Route `json:"route,omitempty" yaml:"route,omitempty"`
	Loading bool  `json:"loading" yaml:"loading"`
}

func (d Decision) String() string {
	if d.Loading {
		return "Loading"
	}
	return string(d.Route)
}

// Resolve maps state to a decision. The first matching rule wins.
func Resolve(s State) Decision {
	switch {
	case !s.IsAuthenticated:
		return Decision{Route: Auth}
	case !s.ProfileChecked:
		return Decision{Loading: true}
	case !s.IsProfileComplete:
		return Decision{Route: CompleteProfile}
	case s.Role == string(role.Engineer):
		return Decision{Route: EngineerDashboard}
	case s.Role == string(role.Doctor):
		return Decision{Route: Doctor}
	default:
		return Decision{Route: MainApp}
	}
}
