package registry

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/thesis/acre-allocator/events"
)

var (
	ErrUnauthorized      = errors.New("caller is not governance")
	ErrAlreadyApproved   = errors.New("destination already approved")
	ErrNotApproved       = errors.New("destination not approved")
	ErrAlreadyRegistered = errors.New("maintainer already registered")
	ErrNotRegistered     = errors.New("maintainer not registered")
	ErrZeroAddress       = errors.New("zero address")
)

// AllocationRegistry tracks which destinations may receive pooled liquidity
// and which maintainers may trigger allocation. Only governance mutates
// either set. Removal is swap-with-last-and-pop, so iteration order over
// Destinations/Maintainers is unspecified.
type AllocationRegistry struct {
	mu sync.RWMutex

	governance common.Address

	destinations []common.Address
	destIndex    map[common.Address]int

	maintainers []common.Address
	maintIndex  map[common.Address]int

	emitter *events.Emitter
}

func NewAllocationRegistry(governance common.Address, emitter *events.Emitter) *AllocationRegistry {
	return &AllocationRegistry{
		governance: governance,
		destIndex:  make(map[common.Address]int),
		maintIndex: make(map[common.Address]int),
		emitter:    emitter,
	}
}

func (r *AllocationRegistry) Governance() common.Address { return r.governance }

func (r *AllocationRegistry) AddDestination(caller, dest common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.governance {
		return ErrUnauthorized
	}
	if _, ok := r.destIndex[dest]; ok {
		return ErrAlreadyApproved
	}
	r.destIndex[dest] = len(r.destinations)
	r.destinations = append(r.destinations, dest)
	r.emitter.Emit(events.Event{Kind: events.DestinationAdded, Destination: dest})
	return nil
}

func (r *AllocationRegistry) RemoveDestination(caller, dest common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.governance {
		return ErrUnauthorized
	}
	i, ok := r.destIndex[dest]
	if !ok {
		return ErrNotApproved
	}
	last := len(r.destinations) - 1
	if i != last {
		moved := r.destinations[last]
		r.destinations[i] = moved
		r.destIndex[moved] = i
	}
	r.destinations = r.destinations[:last]
	delete(r.destIndex, dest)
	r.emitter.Emit(events.Event{Kind: events.DestinationRemoved, Destination: dest})
	return nil
}

func (r *AllocationRegistry) AddMaintainer(caller, m common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.governance {
		return ErrUnauthorized
	}
	if m == (common.Address{}) {
		return ErrZeroAddress
	}
	if _, ok := r.maintIndex[m]; ok {
		return ErrAlreadyRegistered
	}
	r.maintIndex[m] = len(r.maintainers)
	r.maintainers = append(r.maintainers, m)
	r.emitter.Emit(events.Event{Kind: events.MaintainerAdded, Owner: m})
	return nil
}

func (r *AllocationRegistry) RemoveMaintainer(caller, m common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.governance {
		return ErrUnauthorized
	}
	i, ok := r.maintIndex[m]
	if !ok {
		return ErrNotRegistered
	}
	last := len(r.maintainers) - 1
	if i != last {
		moved := r.maintainers[last]
		r.maintainers[i] = moved
		r.maintIndex[moved] = i
	}
	r.maintainers = r.maintainers[:last]
	delete(r.maintIndex, m)
	r.emitter.Emit(events.Event{Kind: events.MaintainerRemoved, Owner: m})
	return nil
}

func (r *AllocationRegistry) IsDestination(dest common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.destIndex[dest]
	return ok
}

func (r *AllocationRegistry) IsMaintainer(m common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.maintIndex[m]
	return ok
}

func (r *AllocationRegistry) Destinations() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, len(r.destinations))
	copy(out, r.destinations)
	return out
}

func (r *AllocationRegistry) Maintainers() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, len(r.maintainers))
	copy(out, r.maintainers)
	return out
}
