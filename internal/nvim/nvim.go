// Package nvim refreshes the buffers of a running Neovim after askpatch
// changes files underneath it.
package nvim

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/neovim/go-client/nvim"
)

// AddressEnv names the variable Neovim exports to its child processes.
const AddressEnv = "NVIM_LISTEN_ADDRESS"

var ErrNoAddress = errors.New("nvim: no listen address")

// Manager reloads buffers through Neovim's RPC socket. It dials per call so
// an editor restarted between sessions is still found.
type Manager struct {
	addr string
}

// New creates a Manager for the instance listening on addr.
func New(addr string) (*Manager, error) {
	if addr == "" {
		return nil, ErrNoAddress
	}
	return &Manager{addr: addr}, nil
}

// FromEnv creates a Manager from $NVIM_LISTEN_ADDRESS, or returns nil when
// askpatch was not started from inside Neovim.
func FromEnv() *Manager {
	m, err := New(os.Getenv(AddressEnv))
	if err != nil {
		return nil
	}
	return m
}

// Reload asks Neovim to re-read every buffer whose file changed on disk.
func (m *Manager) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := nvim.Dial(m.addr)
	if err != nil {
		return fmt.Errorf("connecting to nvim at %s: %w", m.addr, err)
	}
	defer v.Close()

	b := v.NewBatch()
	b.Command("set autoread")
	b.Command("silent! checktime")
	if err := b.Execute(); err != nil {
		return fmt.Errorf("reloading buffers: %w", err)
	}
	return nil
}
