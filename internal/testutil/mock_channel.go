// mock_channel.go - Scripted transfer channel for testing
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/uploadhub/backend/internal/models"
	"github.com/uploadhub/backend/internal/transfer"
)

// Step is one progress event of a scripted transfer.
type Step struct {
	Loaded int64
	Total  int64
}

// Script describes how MockChannel plays out the transfer of one file.
type Script struct {
	Steps    []Step
	Response *models.Response
	Err      error
	// Gate, when set, holds the transfer after its progress steps until
	// the channel is closed or receives a value.
	Gate chan struct{}
	// Panic makes the transfer panic after its progress steps.
	Panic bool
}

// MockChannel is an in-memory transfer.Channel that replays scripts by file name.
// Files without a script succeed immediately with an empty response.
type MockChannel struct {
	mu      sync.Mutex
	scripts map[string]Script
	started []string
}

var _ transfer.Channel = (*MockChannel)(nil)

// NewMockChannel creates a MockChannel.
func NewMockChannel() *MockChannel {
	return &MockChannel{scripts: make(map[string]Script)}
}

// On registers the script for files named name.
func (m *MockChannel) On(name string, s Script) *MockChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[name] = s
	return m
}

// Started returns the names of every file a transfer was started for.
func (m *MockChannel) Started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.started))
	copy(out, m.started)
	return out
}

// Transfer implements transfer.Channel.
func (m *MockChannel) Transfer(ctx context.Context, file *models.File, progress transfer.ProgressFunc) (*models.Response, error) {
	m.mu.Lock()
	m.started = append(m.started, file.Name)
	s, ok := m.scripts[file.Name]
	m.mu.Unlock()

	if !ok {
		return &models.Response{}, nil
	}
	for _, st := range s.Steps {
		if progress != nil {
			progress(st.Loaded, st.Total)
		}
	}
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Panic {
		panic(fmt.Sprintf("mock transfer of %s panicked", file.Name))
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Response == nil {
		return &models.Response{}, nil
	}
	return s.Response, nil
}
