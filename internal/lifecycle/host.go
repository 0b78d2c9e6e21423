// Package lifecycle sequences the offline cache hooks the way a browser runs a
// service worker: install, then activate, then serve fetches.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/taskshell/internal/offline"
)

// ErrNotActive is returned by Fetch before a generation has been activated.
var ErrNotActive = errors.New("cache is not active")

// Phase is the host's position in the install/activate sequence.
type Phase string

// Phases in the order a healthy host moves through them.
const (
	PhaseParsed     Phase = "parsed"
	PhaseInstalling Phase = "installing"
	PhaseInstalled  Phase = "installed"
	PhaseActivating Phase = "activating"
	PhaseActivated  Phase = "activated"
	// PhaseRedundant marks a host whose install failed without any prior
	// activated generation to fall back on.
	PhaseRedundant Phase = "redundant"
)

// Manager is the cache surface the host drives.
type Manager interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, url string) (offline.Response, bool, error)
}

// Host owns the lifecycle state of one cache manager.
type Host struct {
	manager Manager
	logger  *zap.Logger

	installMu  sync.Mutex
	activateMu sync.Mutex

	mu     sync.RWMutex
	phase  Phase
	active bool
}

// NewHost wraps manager in the parsed phase.
func NewHost(manager Manager, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		manager: manager,
		logger:  logger.Named("lifecycle"),
		phase:   PhaseParsed,
	}
}

// Phase reports the current lifecycle phase.
func (h *Host) Phase() Phase {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.phase
}

// Active reports whether Fetch serves requests.
func (h *Host) Active() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

func (h *Host) setPhase(p Phase) {
	h.mu.Lock()
	h.phase = p
	h.mu.Unlock()
	h.logger.Debug("lifecycle phase", zap.String("phase", string(p)))
}

// Boot installs and then activates.
func (h *Host) Boot(ctx context.Context) error {
	if err := h.Install(ctx); err != nil {
		return err
	}
	_, err := h.Activate(ctx)
	return err
}

// Install runs the install hook. Concurrent calls are serialized. A failure
// after an earlier activation leaves the previous generation serving.
func (h *Host) Install(ctx context.Context) error {
	h.installMu.Lock()
	defer h.installMu.Unlock()

	h.setPhase(PhaseInstalling)
	if err := h.manager.Install(ctx); err != nil {
		if h.Active() {
			h.setPhase(PhaseActivated)
		} else {
			h.setPhase(PhaseRedundant)
		}
		return fmt.Errorf("install: %w", err)
	}
	h.setPhase(PhaseInstalled)
	return nil
}

// Activate runs the activate hook and returns the purged generation names.
func (h *Host) Activate(ctx context.Context) ([]string, error) {
	h.activateMu.Lock()
	defer h.activateMu.Unlock()

	if p := h.Phase(); p != PhaseInstalled && p != PhaseActivated {
		return nil, fmt.Errorf("activate: cannot activate from phase %s", p)
	}

	h.setPhase(PhaseActivating)
	purged, err := h.manager.Activate(ctx)
	if err != nil {
		h.setPhase(PhaseInstalled)
		return purged, fmt.Errorf("activate: %w", err)
	}

	h.mu.Lock()
	h.phase = PhaseActivated
	h.active = true
	h.mu.Unlock()
	h.logger.Info("cache activated", zap.Strings("purged", purged))
	return purged, nil
}

// Fetch serves url through the manager once the host is active.
func (h *Host) Fetch(ctx context.Context, url string) (offline.Response, bool, error) {
	if !h.Active() {
		return offline.Response{}, false, ErrNotActive
	}
	return h.manager.Fetch(ctx, url)
}
