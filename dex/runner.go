// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"context"
	"errors"
	"sync"
)

// Connector is any type that implements the Connect method, which will return
// a connection error, and a WaitGroup that can be waited on at Disconnection.
type Connector interface {
	Connect(ctx context.Context) (*sync.WaitGroup, error)
}

// ConnectionMaster manages a Connector.
type ConnectionMaster struct {
	connector Connector
	cancel    context.CancelFunc
	done      chan struct{}

	mtx       sync.Mutex
	connected bool
}

// NewConnectionMaster creates a new ConnectionMaster.
func NewConnectionMaster(c Connector) *ConnectionMaster {
	return &ConnectionMaster{
		connector: c,
		done:      make(chan struct{}),
	}
}

// ConnectOnce calls Connect on the Connector. If Connect fails, the
// ConnectionMaster cannot be reused. On success, Done returns a channel that
// is closed when the Connector's WaitGroup completes.
func (c *ConnectionMaster) ConnectOnce(ctx context.Context) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.connected {
		return errors.New("already connected")
	}

	ctx, cancel := context.WithCancel(ctx)
	wg, err := c.connector.Connect(ctx)
	if err != nil {
		cancel()
		close(c.done)
		return err
	}
	c.cancel = cancel
	c.connected = true

	go func() {
		wg.Wait()
		cancel()
		c.mtx.Lock()
		c.connected = false
		c.mtx.Unlock()
		close(c.done)
	}()
	return nil
}

// Done returns a channel that is closed when the Connector shuts down.
func (c *ConnectionMaster) Done() <-chan struct{} {
	return c.done
}

// On reports whether the Connector is running.
func (c *ConnectionMaster) On() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.connected
}

// Disconnect cancels the Connector's context and waits for it to shut down.
func (c *ConnectionMaster) Disconnect() {
	c.mtx.Lock()
	cancel := c.cancel
	c.mtx.Unlock()
	if cancel != nil {
		cancel()
	}
	<-c.done
}
