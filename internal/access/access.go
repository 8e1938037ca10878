// Package access models the identity collaborator's authorization check.
// The core performs no authorization itself: callers consult an Authorizer
// before invoking graph or hub operations.
package access

// Known actions checked before core operations.
const (
	ActionContribute = "contribute"
	ActionSubscribe  = "subscribe"
)

// Authorizer is the single check consumed from the external identity and
// access service.
type Authorizer interface {
	IsAuthorized(callerID, action string) bool
}

// AllowAll authorizes every caller for every action. It is the default when
// no identity service is wired in.
type AllowAll struct{}

func (AllowAll) IsAuthorized(string, string) bool { return true }

// Grants returns the subset of actions the caller is authorized for,
// preserving order. Used to attach a capability set to a hub connection.
func Grants(a Authorizer, callerID string, actions ...string) []string {
	if a == nil {
		return nil
	}
	var out []string
	for _, action := range actions {
		if a.IsAuthorized(callerID, action) {
			out = append(out, action)
		}
	}
	return out
}
