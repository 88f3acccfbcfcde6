package health

import (
	"fmt"
	"sync/atomic"
)

type Checker interface {
	Check() error
}

// StatusChecker is a named health flag that starts unhealthy and is flipped by exactly
// one writer goroutine. Reads are lock free so the probe server never blocks on a
// writer that is mid I/O.
type StatusChecker struct {
	name    string
	healthy atomic.Bool
}

func NewStatusChecker(name string) *StatusChecker {
	return &StatusChecker{name: name}
}

func (c *StatusChecker) MarkHealthy() {
	c.healthy.Store(true)
}

func (c *StatusChecker) MarkUnhealthy() {
	c.healthy.Store(false)
}

func (c *StatusChecker) SetHealthy(healthy bool) {
	c.healthy.Store(healthy)
}

func (c *StatusChecker) Check() error {
	if !c.healthy.Load() {
		return fmt.Errorf("%s not healthy", c.name)
	}
	return nil
}
