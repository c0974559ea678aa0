// Package governance simulates host governance vote delegation.
package governance

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
)

// SimulateGovernance records which proxy each voter delegates to.
type SimulateGovernance struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	delegates map[domain.AccountID]domain.AccountID
}

// NewSimulateGovernance creates an empty delegation table.
func NewSimulateGovernance(logger *zap.Logger) *SimulateGovernance {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulateGovernance{
		logger:    logger,
		delegates: make(map[domain.AccountID]domain.AccountID),
	}
}

// Delegate forwards the voter's power to proxy. An empty proxy clears the delegation.
func (g *SimulateGovernance) Delegate(ctx context.Context, voter, proxy domain.AccountID) error {
	if voter == "" {
		return domain.Validationf("voter is required")
	}
	if voter == proxy {
		return domain.Validationf("%s cannot delegate to itself", voter)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if proxy == "" {
		delete(g.delegates, voter)
	} else {
		g.delegates[voter] = proxy
	}

	g.logger.Info("vote delegation changed",
		zap.String("voter", voter.String()),
		zap.String("proxy", proxy.String()))
	return nil
}

// DelegateOf returns the voter's proxy, if any.
func (g *SimulateGovernance) DelegateOf(ctx context.Context, voter domain.AccountID) (domain.AccountID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	proxy, ok := g.delegates[voter]
	return proxy, ok
}
