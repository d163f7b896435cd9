package node

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SupervisorConfig holds configuration for the supervisor
type SupervisorConfig struct {
	// MaxRetries is the maximum number of restart attempts
	MaxRetries int
	// RetryDelay is the delay between restart attempts
	RetryDelay time.Duration
	// HealthCheckInterval is how often to check agent health
	HealthCheckInterval time.Duration
}

// DefaultSupervisorConfig returns default supervisor configuration
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxRetries:          3,
		RetryDelay:          5 * time.Second,
		HealthCheckInterval: 10 * time.Second,
	}
}

// Supervisor manages a node's lifecycle with restart capabilities
type Supervisor struct {
	mu     sync.RWMutex
	node   *Node
	config SupervisorConfig

	// Lifecycle management
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	running    bool
	retryCount int
}

// NewSupervisor creates a new supervisor for the given node
func NewSupervisor(n *Node) *Supervisor {
	return NewSupervisorWithConfig(n, DefaultSupervisorConfig())
}

// NewSupervisorWithConfig creates a new supervisor with custom configuration
func NewSupervisorWithConfig(n *Node, config SupervisorConfig) *Supervisor {
	return &Supervisor{
		node:   n,
		config: config,
		done:   make(chan struct{}),
	}
}

// Start starts the supervisor
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("supervisor is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.retryCount = 0

	// Start the node
	if err := s.node.Start(s.ctx); err != nil {
		s.running = false
		return fmt.Errorf("failed to start node: %w", err)
	}

	// Start supervisor loop
	go s.supervise()

	return nil
}

// Stop stops the supervisor and the managed agent
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("supervisor is not running")
	}

	// Cancel supervisor context
	if s.cancel != nil {
		s.cancel()
	}

	// Stop the node
	if err := s.node.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop node: %w", err)
	}

	// Wait for supervisor to finish
	select {
	case <-s.done:
		// Supervisor stopped gracefully
	case <-ctx.Done():
		// Timeout waiting for supervisor to stop
		return fmt.Errorf("timeout waiting for supervisor to stop")
	}

	s.running = false
	return nil
}

// IsRunning returns whether the supervisor is running
func (s *Supervisor) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RetryCount returns the current retry count
func (s *Supervisor) RetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retryCount
}

// supervise is the main supervisor loop
func (s *Supervisor) supervise() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkNodeHealth()
		}
	}
}

// checkNodeHealth checks if the node is healthy and restarts it if needed
func (s *Supervisor) checkNodeHealth() {
	state := s.node.State()

	// If the node stopped unexpectedly, try to restart it.
	if state == StateStopped && s.running {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.retryCount >= s.config.MaxRetries {
			fmt.Printf("Supervisor: Maximum retries (%d) exceeded, giving up\n", s.config.MaxRetries)
			return
		}

		s.retryCount++
		fmt.Printf("Supervisor: node unhealthy (state: %s), attempting restart %d/%d\n",
			state, s.retryCount, s.config.MaxRetries)

		// Wait before retry
		time.Sleep(s.config.RetryDelay)

		// Try to restart the node
		if err := s.node.Start(s.ctx); err != nil {
			fmt.Printf("Supervisor: failed to restart node: %v\n", err)
		} else {
			fmt.Printf("Supervisor: node restarted successfully\n")
			// Reset retry count on successful restart
			s.retryCount = 0
		}
	}
}
