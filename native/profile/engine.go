package profile

import (
	"errors"
	"math/big"

	"matchvault/core/events"
	"matchvault/core/types"
	"matchvault/native/custody"
)

var (
	errNilState        = errors.New("profile engine: state not configured")
	ErrProfileExists   = errors.New("profile engine: profile already exists")
	ErrProfileNotFound = errors.New("profile engine: profile not found")
)

type engineState interface {
	ProfilePut(*UserProfile) error
	ProfileGet(authority [20]byte) (*UserProfile, bool)
}

type profileEvent struct {
	evt *types.Event
}

func (e profileEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e profileEvent) Event() *types.Event { return e.evt }

// Engine manages user profile records: the DM pricing policy, the optional
// asset gate, and the auction sequence counter that keeps a host's auctions
// collision-free.
type Engine struct {
	state   engineState
	emitter events.Emitter
}

// NewEngine creates a profile engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(profileEvent{evt: event})
}

// Create registers a new profile for the authority. The profile record's
// derivation salt is discovered at creation time and stored for later address
// reconstruction.
func (e *Engine) Create(authority [20]byte, dmPrice *big.Int, gate *AssetGate) (*UserProfile, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, ok := e.state.ProfileGet(authority); ok {
		return nil, ErrProfileExists
	}
	_, salt, err := custody.Derive(custody.TagProfile, authority[:])
	if err != nil {
		return nil, err
	}
	prof := &UserProfile{
		Authority: authority,
		DmPrice:   dmPrice,
		Gate:      gate,
		Salt:      salt,
	}
	sanitized, err := SanitizeProfile(prof)
	if err != nil {
		return nil, err
	}
	if err := e.state.ProfilePut(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(sanitized))
	return sanitized.Clone(), nil
}

// GateUpdate describes an optional change to a profile's asset gate. A nil
// *GateUpdate leaves the gate untouched; a GateUpdate with Clear set removes
// it; otherwise Gate replaces the existing policy.
type GateUpdate struct {
	Clear bool
	Gate  *AssetGate
}

// Update applies the optional field changes to the authority's own profile.
// Nil parameters leave the corresponding field unchanged.
func (e *Engine) Update(authority [20]byte, dmPrice *big.Int, gate *GateUpdate) (*UserProfile, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	prof, ok := e.state.ProfileGet(authority)
	if !ok {
		return nil, ErrProfileNotFound
	}
	updated := prof.Clone()
	if dmPrice != nil {
		updated.DmPrice = new(big.Int).Set(dmPrice)
	}
	if gate != nil {
		if gate.Clear {
			updated.Gate = nil
		} else {
			updated.Gate = gate.Gate
		}
	}
	sanitized, err := SanitizeProfile(updated)
	if err != nil {
		return nil, err
	}
	if err := e.state.ProfilePut(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewUpdatedEvent(sanitized))
	return sanitized.Clone(), nil
}

// Get returns the profile stored for the authority.
func (e *Engine) Get(authority [20]byte) (*UserProfile, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	prof, ok := e.state.ProfileGet(authority)
	if !ok {
		return nil, ErrProfileNotFound
	}
	return prof.Clone(), nil
}
