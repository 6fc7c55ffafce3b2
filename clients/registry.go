package clients

import (
	"fmt"
	"sort"
	"sync"

	x402types "github.com/vitwit/x402/types"
)

type entry struct {
	config x402types.ChainConfig
	client Client
}

// Registry maps chain ids to their configuration and RPC client.
type Registry struct {
	mu     sync.RWMutex
	chains map[int64]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{chains: make(map[int64]entry)}
}

// Add registers a client for cfg.ChainID, replacing any previous one.
func (r *Registry) Add(cfg x402types.ChainConfig, client Client) error {
	if cfg.ChainID <= 0 {
		return &x402types.X402Error{
			Code:    x402types.ErrConfig,
			Message: fmt.Sprintf("invalid chain id %d", cfg.ChainID),
		}
	}
	if client == nil {
		return &x402types.X402Error{
			Code:    x402types.ErrConfig,
			Message: fmt.Sprintf("nil client for chain %d", cfg.ChainID),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.chains[cfg.ChainID]; ok && old.client != client {
		old.client.Close()
	}
	r.chains[cfg.ChainID] = entry{config: cfg.WithDefaults(), client: client}
	return nil
}

// Dial connects to cfg.RPCUrl and registers the resulting client.
func (r *Registry) Dial(cfg x402types.ChainConfig) error {
	client, err := NewEVMClient(cfg)
	if err != nil {
		return err
	}
	return r.Add(cfg, client)
}

// Lookup returns the client configured for chainID.
func (r *Registry) Lookup(chainID int64) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.chains[chainID]
	if !ok {
		return nil, false
	}
	return e.client, true
}

// Reader is Lookup narrowed to the read-side calls verification needs.
func (r *Registry) Reader(chainID int64) (ChainReader, bool) {
	c, ok := r.Lookup(chainID)
	if !ok {
		return nil, false
	}
	return c, true
}

// Writer is Lookup narrowed to the calls needed to submit a payment.
func (r *Registry) Writer(chainID int64) (ChainWriter, bool) {
	c, ok := r.Lookup(chainID)
	if !ok {
		return nil, false
	}
	return c, true
}

// Config returns the chain configuration for chainID.
func (r *Registry) Config(chainID int64) (x402types.ChainConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.chains[chainID]
	return e.config, ok
}

// Describe returns the 402 body entry for chainID, falling back to the known
// chain table for chains without a client.
func (r *Registry) Describe(chainID int64) x402types.SupportedChain {
	cfg, ok := r.Config(chainID)
	if !ok {
		cfg = x402types.ChainConfig{ChainID: chainID}.WithDefaults()
	}
	return x402types.SupportedChain{
		ChainID: cfg.ChainID,
		Name:    cfg.Name,
		RPCUrl:  cfg.RPCUrl,
	}
}

// ChainIDs returns the registered chain ids in ascending order.
func (r *Registry) ChainIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close closes all client connections
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.chains {
		e.client.Close()
		delete(r.chains, id)
	}
}
