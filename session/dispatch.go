package session

import (
	"context"
	"fmt"

	"github.com/overtone-app/spotify-session/internal/spotify"
)

// CommandKind enumerates the playback command vocabulary.
type CommandKind string

const (
	CmdPlay       CommandKind = "play"
	CmdPause      CommandKind = "pause"
	CmdTogglePlay CommandKind = "toggle-play"
	CmdNext       CommandKind = "next"
	CmdPrevious   CommandKind = "previous"
	CmdSetVolume  CommandKind = "set-volume"
	CmdSetShuffle CommandKind = "set-shuffle"
	CmdSetRepeat  CommandKind = "set-repeat"
	CmdRefresh    CommandKind = "refresh"
)

// Command is one playback instruction. Volume, Shuffle, and Repeat are only
// read for their corresponding kinds.
type Command struct {
	Kind    CommandKind
	Volume  int
	Shuffle bool
	Repeat  string
}

// Dispatch runs one playback command: device activation per policy, the API
// call itself, then a fresh snapshot so the caller always observes ground
// truth rather than an optimistic local mutation — on success and on handled
// errors alike, since a failed command may still have changed remote state
// (a transfer that landed before the command itself was rejected). Errors are
// published as events and returned; they are never swallowed here.
func (m *Manager) Dispatch(ctx context.Context, cmd Command) (snapshot *spotify.PlaybackSnapshot, err error) {
	defer func() {
		if err == nil {
			return
		}
		m.checkSessionLoss(err)
		m.bus.publish(AuthError{Message: fmt.Sprintf("%s failed: %v", cmd.Kind, err)})
		if m.client.Connected() {
			if refreshed, serr := m.Snapshot(ctx); serr == nil {
				snapshot = refreshed
			}
		}
	}()

	switch cmd.Kind {
	case CmdRefresh:
		// Pure read, no activation required.

	case CmdPlay:
		if _, err = m.activator.EnsureActiveDevice(ctx, true); err != nil {
			return nil, err
		}
		err = m.playbackCall(m.client.Play(ctx))

	case CmdPause:
		if _, err = m.activator.EnsureActiveDevice(ctx, false); err != nil {
			return nil, err
		}
		err = m.playbackCall(m.client.Pause(ctx))

	case CmdTogglePlay:
		var current *spotify.PlaybackSnapshot
		current, err = m.client.CurrentPlayback(ctx)
		if err != nil {
			return nil, err
		}
		if current != nil && current.IsPlaying {
			if _, err = m.activator.EnsureActiveDevice(ctx, false); err != nil {
				return nil, err
			}
			err = m.playbackCall(m.client.Pause(ctx))
		} else {
			if _, err = m.activator.EnsureActiveDevice(ctx, true); err != nil {
				return nil, err
			}
			err = m.playbackCall(m.client.Play(ctx))
		}

	case CmdNext:
		if _, err = m.activator.EnsureActiveDevice(ctx, true); err != nil {
			return nil, err
		}
		err = m.playbackCall(m.client.Next(ctx))

	case CmdPrevious:
		if _, err = m.activator.EnsureActiveDevice(ctx, true); err != nil {
			return nil, err
		}
		err = m.playbackCall(m.client.Previous(ctx))

	case CmdSetVolume:
		if _, err = m.activator.EnsureActiveDevice(ctx, false); err != nil {
			return nil, err
		}
		err = m.playbackCall(m.client.SetVolume(ctx, clampVolume(cmd.Volume)))

	case CmdSetShuffle:
		if _, err = m.activator.EnsureActiveDevice(ctx, false); err != nil {
			return nil, err
		}
		err = m.playbackCall(m.client.SetShuffle(ctx, cmd.Shuffle))

	case CmdSetRepeat:
		if _, err = m.activator.EnsureActiveDevice(ctx, false); err != nil {
			return nil, err
		}
		err = m.playbackCall(m.client.SetRepeat(ctx, cmd.Repeat))

	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Kind)
	}

	if err != nil {
		return nil, err
	}
	return m.Snapshot(ctx)
}

// playbackCall maps a 404 from the playback call itself to the distinct
// no-active-device error so the UI can prompt the user to open the app.
func (m *Manager) playbackCall(err error) error {
	if err == nil {
		return nil
	}
	if spotify.IsNotFound(err) {
		return spotify.ErrNoActiveDevice
	}
	return err
}

// clampVolume bounds percent to [0,100] before transmission.
func clampVolume(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
