package profile

import (
	"github.com/google/uuid"
)

// CommandCallback delivers the asynchronous result of a registered vendor
// command
type CommandCallback func(value []byte, err error)

// CommandRegistration correlates one asynchronous vendor command with its
// callback. The token is an opaque random value handed to the transport;
// the identity is the stable key (typically a characteristic UUID key) the
// registration is stored under.
type CommandRegistration struct {
	Token    string
	Identity string
	Callback CommandCallback
}

// CommandRegistry maps vendor-command registrations both by stable identity
// and by opaque token. Access is guarded by the single-queue discipline, not
// by locks.
type CommandRegistry struct {
	byIdentity map[string]*CommandRegistration
}

// NewCommandRegistry creates an empty registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{byIdentity: make(map[string]*CommandRegistration)}
}

// Register stores a callback under a stable identity and returns the opaque
// token to attach to the outgoing command. Re-registering an identity
// replaces the previous callback and issues a fresh token.
func (r *CommandRegistry) Register(identity string, cb CommandCallback) string {
	reg := &CommandRegistration{
		Token:    uuid.NewString(),
		Identity: identity,
		Callback: cb,
	}
	r.byIdentity[identity] = reg
	return reg.Token
}

// ResolveToken finds the registration carrying the given token
func (r *CommandRegistry) ResolveToken(token string) (*CommandRegistration, bool) {
	for _, reg := range r.byIdentity {
		if reg.Token == token {
			return reg, true
		}
	}
	return nil, false
}

// ResolveIdentity finds the registration stored under the given identity
func (r *CommandRegistry) ResolveIdentity(identity string) (*CommandRegistration, bool) {
	reg, ok := r.byIdentity[identity]
	return reg, ok
}

// Unregister removes a registration by identity
func (r *CommandRegistry) Unregister(identity string) {
	delete(r.byIdentity, identity)
}

// Len returns the number of live registrations
func (r *CommandRegistry) Len() int {
	return len(r.byIdentity)
}
