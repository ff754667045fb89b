// Package health provides a registry of named subsystem health checkers.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/mbd888/xmrcheckout/internal/gateway"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs all registered checkers and returns the aggregate health
// status plus individual subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		statuses[i] = nc.check(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}

// WalletPool checks that every wallet RPC backend answers its version
// probe.
func WalletPool(gw gateway.WalletGateway) Checker {
	return func(ctx context.Context) Status {
		st := gw.Status(ctx)
		down := 0
		for _, b := range st.Backends {
			if !b.Reachable {
				down++
			}
		}
		if down > 0 {
			return Status{
				Name:    "wallet_rpc",
				Healthy: false,
				Detail:  fmt.Sprintf("%d of %d backends unreachable", down, len(st.Backends)),
			}
		}
		return Status{Name: "wallet_rpc", Healthy: true}
	}
}

// Daemon checks that the chain daemon reports a nonzero height.
func Daemon(gw gateway.WalletGateway) Checker {
	return func(ctx context.Context) Status {
		height := gw.DaemonHeight(ctx)
		if height == 0 {
			return Status{Name: "daemon", Healthy: false, Detail: "height probe failed"}
		}
		return Status{Name: "daemon", Healthy: true, Detail: fmt.Sprintf("height %d", height)}
	}
}

// Database checks database connectivity with a ping.
func Database(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return Status{Name: "database", Healthy: true}
	}
}
