// Package device implements the activation state machine that guarantees a
// remote playback device is active before playback commands are issued.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/overtone-app/spotify-session/internal/spotify"
)

// State is the machine's observable position.
type State int

const (
	StateUnknown State = iota
	StateChecking
	StateDeviceActive
	StateNoDevices
	StateTransferPending
	StateTransferFailed
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateDeviceActive:
		return "device-active"
	case StateNoDevices:
		return "no-devices"
	case StateTransferPending:
		return "transfer-pending"
	case StateTransferFailed:
		return "transfer-failed"
	default:
		return "unknown"
	}
}

// PlayerAPI is the slice of the remote client the machine needs.
type PlayerAPI interface {
	CurrentPlayback(ctx context.Context) (*spotify.PlaybackSnapshot, error)
	Devices(ctx context.Context) ([]spotify.Device, error)
	TransferPlayback(ctx context.Context, deviceID string, play bool) error
}

const (
	// maxSettleBudget bounds the post-transfer wait; remote state propagation
	// beyond this is handled by proceeding anyway.
	maxSettleBudget = time.Second

	defaultSettleInterval       = 250 * time.Millisecond
	defaultSettleBudget         = 500 * time.Millisecond
	defaultSettleBudgetAutoplay = time.Second
)

// Activator drives the Unknown -> Checking -> DeviceActive | NoDevices |
// TransferPending -> DeviceActive | TransferFailed machine.
type Activator struct {
	api PlayerAPI
	log *log.Entry

	settleInterval       time.Duration
	settleBudget         time.Duration
	settleBudgetAutoplay time.Duration

	mu    sync.Mutex
	state State
}

// Option configures an Activator.
type Option func(*Activator)

// WithSettleInterval sets the poll interval used while waiting for a
// transferred device to report active.
func WithSettleInterval(d time.Duration) Option {
	return func(a *Activator) {
		a.settleInterval = d
	}
}

// WithSettleBudget sets the total post-transfer wait, for transfers without
// and with autoplay. Both are capped at one second.
func WithSettleBudget(plain, autoplay time.Duration) Option {
	return func(a *Activator) {
		a.settleBudget = plain
		a.settleBudgetAutoplay = autoplay
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(a *Activator) {
		a.log = logger.WithField("component", "device_activation")
	}
}

// NewActivator creates an activation machine over api.
func NewActivator(api PlayerAPI, opts ...Option) *Activator {
	a := &Activator{
		api:                  api,
		log:                  log.StandardLogger().WithField("component", "device_activation"),
		settleInterval:       defaultSettleInterval,
		settleBudget:         defaultSettleBudget,
		settleBudgetAutoplay: defaultSettleBudgetAutoplay,
		state:                StateUnknown,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.settleBudget > maxSettleBudget {
		a.settleBudget = maxSettleBudget
	}
	if a.settleBudgetAutoplay > maxSettleBudget {
		a.settleBudgetAutoplay = maxSettleBudget
	}
	return a
}

// State returns the machine's last observed position.
func (a *Activator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Activator) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// EnsureActiveDevice makes sure some remote device is active and returns it.
// autoPlay controls whether a transfer also resumes playback; commands that
// only need a valid device pass false and commands that must start audio
// pass true.
func (a *Activator) EnsureActiveDevice(ctx context.Context, autoPlay bool) (*spotify.Device, error) {
	a.setState(StateChecking)

	snapshot, err := a.api.CurrentPlayback(ctx)
	if err != nil {
		a.setState(StateUnknown)
		return nil, fmt.Errorf("checking playback state: %w", err)
	}
	if snapshot.HasActiveDevice() {
		a.setState(StateDeviceActive)
		return snapshot.Device, nil
	}

	devices, err := a.api.Devices(ctx)
	if err != nil {
		a.setState(StateUnknown)
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	if len(devices) == 0 {
		a.setState(StateNoDevices)
		return nil, spotify.ErrNoDevice
	}

	target := pickTarget(devices)
	a.setState(StateTransferPending)
	a.log.WithFields(log.Fields{
		"device_id":   target.ID,
		"device_name": target.Name,
		"auto_play":   autoPlay,
	}).Info("Transferring playback")

	if err := a.api.TransferPlayback(ctx, target.ID, autoPlay); err != nil {
		a.setState(StateTransferFailed)
		return nil, err
	}

	// The transfer call succeeding is authoritative. The follow-up polling is
	// best effort: remote state is eventually consistent and commands issued
	// right after a successful transfer commonly work despite a stale poll.
	if active, ok := a.waitForActive(ctx, autoPlay); ok {
		a.setState(StateDeviceActive)
		return active, nil
	}

	a.log.WithFields(log.Fields{
		"device_id":   target.ID,
		"device_name": target.Name,
	}).Warn("Device not reporting active after transfer, proceeding anyway")
	a.setState(StateDeviceActive)
	return &target, nil
}

// pickTarget prefers the remote-reported active device, falling back to the
// first listed one.
func pickTarget(devices []spotify.Device) spotify.Device {
	for _, d := range devices {
		if d.IsActive {
			return d
		}
	}
	return devices[0]
}

// waitForActive polls the snapshot until the device reports active or the
// settle budget runs out. Autoplay transfers get the longer budget since the
// remote needs more time to begin audio.
func (a *Activator) waitForActive(ctx context.Context, autoPlay bool) (*spotify.Device, bool) {
	budget := a.settleBudget
	if autoPlay {
		budget = a.settleBudgetAutoplay
	}

	deadline := time.Now().Add(budget)
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(a.settleInterval):
		}

		snapshot, err := a.api.CurrentPlayback(ctx)
		if err != nil {
			a.log.WithError(err).Debug("Settle poll failed")
		} else if snapshot.HasActiveDevice() {
			return snapshot.Device, true
		}

		if time.Now().After(deadline) {
			return nil, false
		}
	}
}
