package channel_test

import (
	"errors"
	"testing"

	"github.com/sneh-joshi/dmq/internal/channel"
	"github.com/sneh-joshi/dmq/internal/types"
)

func newRegistry(t *testing.T) (*channel.Registry, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := channel.New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, dir
}

// ─── Registration ─────────────────────────────────────────────────────────────

func TestRegister_and_List(t *testing.T) {
	r, _ := newRegistry(t)

	for _, id := range []types.ChannelID{2000, 7, 1000} {
		if _, err := r.Register(id, ""); err != nil {
			t.Fatalf("Register(%d): %v", id, err)
		}
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List len = %d, want 3", len(list))
	}
	// List must be sorted.
	if list[0].ID != 7 || list[1].ID != 1000 || list[2].ID != 2000 {
		t.Fatalf("List order wrong: got %v", list)
	}
	if !r.Active(7) {
		t.Error("registered channel should be active")
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r, _ := newRegistry(t)

	if _, err := r.Register(1, "asset-hub"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := r.Register(1, "other")
	if !errors.Is(err, channel.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
}

func TestRegister_InvalidLabel(t *testing.T) {
	r, _ := newRegistry(t)

	bad := []string{"UPPER", "has space", "-leading-hyphen", "a/b"}
	for i, l := range bad {
		if _, err := r.Register(types.ChannelID(i), l); !errors.Is(err, channel.ErrInvalidLabel) {
			t.Errorf("Register(%q): want ErrInvalidLabel, got %v", l, err)
		}
	}
}

// ─── Offboarding ──────────────────────────────────────────────────────────────

func TestOffboarding_Lifecycle(t *testing.T) {
	r, _ := newRegistry(t)
	for _, id := range []types.ChannelID{1, 2, 3} {
		_, _ = r.Register(id, "")
	}

	if err := r.MarkOffboarding(3); err != nil {
		t.Fatalf("MarkOffboarding(3): %v", err)
	}
	if err := r.MarkOffboarding(1); err != nil {
		t.Fatalf("MarkOffboarding(1): %v", err)
	}
	if err := r.MarkOffboarding(1); !errors.Is(err, channel.ErrOffboarding) {
		t.Fatalf("second mark: want ErrOffboarding, got %v", err)
	}
	if err := r.MarkOffboarding(9); !errors.Is(err, channel.ErrNotFound) {
		t.Fatalf("unknown channel: want ErrNotFound, got %v", err)
	}

	if r.Active(1) {
		t.Error("offboarding channel must not be active")
	}
	got := r.Offboarding()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("Offboarding = %v, want [1 3]", got)
	}

	if err := r.Remove(got...); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Get(1); !errors.Is(err, channel.ErrNotFound) {
		t.Fatalf("removed channel: want ErrNotFound, got %v", err)
	}
	if len(r.List()) != 1 {
		t.Fatalf("expected one channel left, got %d", len(r.List()))
	}
}

// ─── Persistence ──────────────────────────────────────────────────────────────

func TestPersistence_SurvivesReload(t *testing.T) {
	r, dir := newRegistry(t)
	_, _ = r.Register(5, "bridge")
	_, _ = r.Register(6, "")
	_ = r.MarkOffboarding(6)

	r2, err := channel.New(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	c, err := r2.Get(5)
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if c.Label != "bridge" || c.RegisteredAt == 0 {
		t.Errorf("unexpected record after reload: %+v", c)
	}
	if got := r2.Offboarding(); len(got) != 1 || got[0] != 6 {
		t.Errorf("offboarding marks lost on reload: %v", got)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	r, _ := newRegistry(t)
	_, _ = r.Register(1, "a")

	c, _ := r.Get(1)
	c.Label = "mutated"

	c2, _ := r.Get(1)
	if c2.Label != "a" {
		t.Fatalf("internal state mutated through Get: %q", c2.Label)
	}
}
