// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package partition

import (
	"context"
	"sync"

	"github.com/erigontech/erigon-lib/log/v3"
	"golang.org/x/sync/errgroup"
)

// Role is this replica's standing with respect to a partition.
type Role int

const (
	// RolePrimary owns both the lease sweeper and the health/load
	// reporter.
	RolePrimary Role = iota
	// RoleActiveSecondary serves reads (Peek, Health) but leaves lease
	// reconciliation to the primary.
	RoleActiveSecondary
	// RoleIdle runs neither background task.
	RoleIdle
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "Primary"
	case RoleActiveSecondary:
		return "ActiveSecondary"
	default:
		return "Idle"
	}
}

// RoleController starts and stops a Partition's background tasks as
// its role changes. Promote/Demote/Idle are idempotent: calling the
// same transition twice is a no-op, matching how a placement service
// might retry a role change it isn't sure landed.
type RoleController struct {
	p *Partition

	mu     sync.Mutex
	role   Role
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewRoleController wraps p, starting in RoleIdle.
func NewRoleController(p *Partition) *RoleController {
	return &RoleController{p: p, role: RoleIdle}
}

func (rc *RoleController) Role() Role {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.role
}

// Promote makes this replica Primary: the sweeper and the health
// reporter both run.
func (rc *RoleController) Promote(ctx context.Context) {
	rc.transition(ctx, RolePrimary)
}

// Demote makes this replica an ActiveSecondary: the sweeper stops,
// since only the primary reconciles leases, and the health reporter
// runs so a placement service can still observe load. Like every role
// change, this first stops all running tasks, so a health reporter
// that was already running is restarted and waits out
// HealthCheckStartDelay again.
func (rc *RoleController) Demote(ctx context.Context) {
	rc.transition(ctx, RoleActiveSecondary)
}

// Idle stops every background task.
func (rc *RoleController) Idle() {
	rc.transition(context.Background(), RoleIdle)
}

func (rc *RoleController) transition(ctx context.Context, next Role) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.role == next {
		return
	}
	rc.stopLocked()
	rc.role = next
	log.Info("[partition] role changed", "partition", rc.p.cfg.PartitionID, "role", next.String())

	switch next {
	case RolePrimary:
		rc.startLocked(ctx, true, true)
	case RoleActiveSecondary:
		rc.startLocked(ctx, false, true)
	case RoleIdle:
		// nothing to start
	}
}

func (rc *RoleController) startLocked(ctx context.Context, sweeper, health bool) {
	runCtx, cancel := context.WithCancel(ctx)
	group, runCtx := errgroup.WithContext(runCtx)
	if sweeper {
		group.Go(func() error { return rc.p.runSweeperLoop(runCtx) })
	}
	if health {
		group.Go(func() error { return rc.p.runHealthLoop(runCtx) })
	}
	rc.cancel = cancel
	rc.group = group
}

func (rc *RoleController) stopLocked() {
	if rc.cancel == nil {
		return
	}
	rc.cancel()
	if rc.group != nil {
		if err := rc.group.Wait(); err != nil && err != context.Canceled {
			log.Warn("[partition] background task exited with error", "partition", rc.p.cfg.PartitionID, "err", err)
		}
	}
	rc.cancel = nil
	rc.group = nil
}

// Stop idles the controller and waits for every background task to
// exit. Safe to call more than once.
func (rc *RoleController) Stop() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.stopLocked()
	rc.role = RoleIdle
}
