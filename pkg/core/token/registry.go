package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps opaque asset identifiers (addresses) to their ledgers.
// The exchange engine resolves deposit/withdraw custody transfers through
// it; read-side consumers use it for symbol lookups.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[common.Address]*Ledger
	symbols map[string]common.Address
}

// NewRegistry creates an empty asset registry.
func NewRegistry() *Registry {
	return &Registry{
		ledgers: make(map[common.Address]*Ledger),
		symbols: make(map[string]common.Address),
	}
}

// Register adds a ledger under the given asset identifier.
// Returns an error if the identifier or symbol is already taken.
func (r *Registry) Register(asset common.Address, l *Ledger) error {
	if l == nil {
		return fmt.Errorf("cannot register nil ledger")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ledgers[asset]; exists {
		return fmt.Errorf("asset %s already registered", asset.Hex())
	}
	if _, exists := r.symbols[l.Symbol()]; exists {
		return fmt.Errorf("symbol %s already registered", l.Symbol())
	}

	r.ledgers[asset] = l
	r.symbols[l.Symbol()] = asset
	return nil
}

// Get returns the ledger for an asset identifier.
func (r *Registry) Get(asset common.Address) (*Ledger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.ledgers[asset]
	return l, ok
}

// BySymbol resolves a token symbol to its asset identifier and ledger.
func (r *Registry) BySymbol(symbol string) (common.Address, *Ledger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	asset, ok := r.symbols[symbol]
	if !ok {
		return common.Address{}, nil, false
	}
	return asset, r.ledgers[asset], true
}

// List returns all registered asset identifiers.
func (r *Registry) List() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assets := make([]common.Address, 0, len(r.ledgers))
	for asset := range r.ledgers {
		assets = append(assets, asset)
	}
	return assets
}

// Count returns the number of registered assets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ledgers)
}
