package exchange

import (
	"time"
)

// helloLoop advertises this node's pool interest at hello_interval as long
// as any pool remains below its satisfied_connections threshold
// ("Advertising", hello envelope). It stops advertising, rather
// than closing down, once every pool is satisfied.
func (c *Coordinator) helloLoop(connectionUUID string) {
	ticker := time.NewTicker(c.cfg.HelloInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.signaling == nil || !c.anyPoolUnsatisfied() {
				continue
			}
			_ = c.signaling.Publish(c.ctx, HelloEnvelope{
				ConnectionUUID: connectionUUID,
				PoolsWanted:    c.unsatisfiedPools(),
				TS:             time.Now(),
			})
		}
	}
}

func (c *Coordinator) unsatisfiedPools() []PoolName {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var wanted []PoolName
	for _, name := range []PoolName{PoolFollows, PoolOther} {
		p := c.pools[name]
		if p.SatisfiedConnections > 0 && len(p.members) < p.SatisfiedConnections {
			wanted = append(wanted, name)
		}
	}
	return wanted
}

// staleSweepLoop periodically drops sessions that are in a terminal
// state, or stuck in "new" past connection_timeout ("Stale
// cleanup").
func (c *Coordinator) staleSweepLoop() {
	ticker := time.NewTicker(c.cfg.StaleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweepStaleSessions()
		}
	}
}

func (c *Coordinator) sweepStaleSessions() {
	now := time.Now()

	c.mu.Lock()
	var dropped []*managedSession
	for id, ms := range c.sessions {
		stale := false
		switch ms.state {
		case stateFailed, stateClosed, stateDisconnected:
			stale = true
		case stateNew:
			stale = now.Sub(ms.admitted) > c.cfg.ConnectionTimeout
		}
		if stale {
			dropped = append(dropped, ms)
			delete(c.pools[ms.pool].members, id)
			delete(c.sessions, id)
		}
	}
	c.mu.Unlock()

	for _, ms := range dropped {
		ms.session.Close()
	}
}
