package nvim

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRequiresAddress(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("err = %v, want ErrNoAddress", err)
	}
	t.Setenv(AddressEnv, "")
	if m := FromEnv(); m != nil {
		t.Fatalf("FromEnv = %+v, want nil", m)
	}
}

func TestReloadUnreachable(t *testing.T) {
	m, err := New(filepath.Join(t.TempDir(), "missing.sock"))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(context.Background()); err == nil {
		t.Fatal("expected a dial error")
	}
}

func TestReloadCancelled(t *testing.T) {
	m, _ := New("unused")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Reload(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestReloadHeadless(t *testing.T) {
	if _, err := exec.LookPath("nvim"); err != nil {
		t.Skip("nvim not installed")
	}
	socket := filepath.Join(t.TempDir(), "nvim.sock")
	cmd := exec.Command("nvim", "--headless", "--clean", "--listen", socket)
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting nvim: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})
	for i := 0; i < 40; i++ {
		if _, err := os.Stat(socket); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	m, err := New(socket)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
}
