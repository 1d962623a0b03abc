package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Wire shapes for the player and library endpoints.

type apiImage struct {
	URL string `json:"url"`
}

type apiArtist struct {
	Name string `json:"name"`
}

type apiAlbum struct {
	Name   string     `json:"name"`
	Images []apiImage `json:"images"`
}

type apiTrack struct {
	ID         string      `json:"id"`
	URI        string      `json:"uri"`
	Name       string      `json:"name"`
	Artists    []apiArtist `json:"artists"`
	Album      apiAlbum    `json:"album"`
	DurationMs int         `json:"duration_ms"`
}

func (t *apiTrack) toTrack() *Track {
	track := &Track{
		ID:         t.ID,
		URI:        t.URI,
		Name:       t.Name,
		Album:      t.Album.Name,
		DurationMs: t.DurationMs,
	}
	for _, a := range t.Artists {
		track.Artists = append(track.Artists, a.Name)
	}
	if len(t.Album.Images) > 0 {
		track.ImageURL = t.Album.Images[0].URL
	}
	return track
}

type apiPlaybackState struct {
	Device       *Device   `json:"device"`
	ShuffleState bool      `json:"shuffle_state"`
	RepeatState  string    `json:"repeat_state"`
	ProgressMs   int       `json:"progress_ms"`
	IsPlaying    bool      `json:"is_playing"`
	Item         *apiTrack `json:"item"`
}

// CurrentPlayback fetches a fresh playback snapshot. A 204 from the remote
// means no playback session exists anywhere; that is reported as (nil, nil).
func (c *Client) CurrentPlayback(ctx context.Context) (*PlaybackSnapshot, error) {
	var state apiPlaybackState
	if err := c.do(ctx, http.MethodGet, "/me/player", nil, nil, &state, true); err != nil {
		return nil, fmt.Errorf("fetching playback state: %w", err)
	}
	// do leaves state zero-valued on a 204.
	if state.Device == nil && state.Item == nil {
		return nil, nil
	}

	snapshot := &PlaybackSnapshot{
		IsPlaying:    state.IsPlaying,
		ProgressMs:   state.ProgressMs,
		Device:       state.Device,
		ShuffleState: state.ShuffleState,
		RepeatState:  state.RepeatState,
		UpdatedAt:    time.Now(),
	}
	if state.Item != nil {
		snapshot.Track = state.Item.toTrack()
	}
	return snapshot, nil
}

// Devices lists all playback devices registered with the account.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out struct {
		Devices []Device `json:"devices"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/player/devices", nil, nil, &out, true); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return out.Devices, nil
}

// TransferPlayback makes deviceID the account's active device. A 404 means
// the target vanished between listing and transfer and is reported as
// ErrNoDevice; any other rejection carries the remote detail.
func (c *Client) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	body := struct {
		DeviceIDs []string `json:"device_ids"`
		Play      bool     `json:"play"`
	}{
		DeviceIDs: []string{deviceID},
		Play:      play,
	}

	err := c.do(ctx, http.MethodPut, "/me/player", nil, body, nil, true)
	if err == nil {
		return nil
	}
	if IsNotFound(err) {
		return fmt.Errorf("device %s disappeared before transfer: %w", deviceID, ErrNoDevice)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &TransferError{DeviceID: deviceID, StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	return err
}

// Play resumes playback on the active device.
func (c *Client) Play(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/me/player/play", nil, nil, nil, true)
}

// Pause pauses playback on the active device.
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/me/player/pause", nil, nil, nil, true)
}

// Next skips to the next track.
func (c *Client) Next(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/me/player/next", nil, nil, nil, true)
}

// Previous skips to the previous track.
func (c *Client) Previous(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/me/player/previous", nil, nil, nil, true)
}

// SetVolume sets the active device volume. The caller is expected to clamp
// percent to [0,100] before transmission.
func (c *Client) SetVolume(ctx context.Context, percent int) error {
	query := url.Values{}
	query.Set("volume_percent", strconv.Itoa(percent))
	return c.do(ctx, http.MethodPut, "/me/player/volume", query, nil, nil, true)
}

// SetShuffle sets the shuffle state on the active device.
func (c *Client) SetShuffle(ctx context.Context, on bool) error {
	query := url.Values{}
	query.Set("state", strconv.FormatBool(on))
	return c.do(ctx, http.MethodPut, "/me/player/shuffle", query, nil, nil, true)
}

// SetRepeat sets the repeat mode: off, track, or context.
func (c *Client) SetRepeat(ctx context.Context, state string) error {
	switch state {
	case RepeatOff, RepeatTrack, RepeatContext:
	default:
		return fmt.Errorf("invalid repeat state %q", state)
	}
	query := url.Values{}
	query.Set("state", state)
	return c.do(ctx, http.MethodPut, "/me/player/repeat", query, nil, nil, true)
}

// Seek moves playback to positionMs within the current track.
func (c *Client) Seek(ctx context.Context, positionMs int) error {
	if positionMs < 0 {
		positionMs = 0
	}
	query := url.Values{}
	query.Set("position_ms", strconv.Itoa(positionMs))
	return c.do(ctx, http.MethodPut, "/me/player/seek", query, nil, nil, true)
}

// Queue fetches the currently playing item and the upcoming queue.
func (c *Client) Queue(ctx context.Context) (*Queue, error) {
	var out struct {
		CurrentlyPlaying *apiTrack  `json:"currently_playing"`
		Queue            []apiTrack `json:"queue"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/player/queue", nil, nil, &out, true); err != nil {
		return nil, fmt.Errorf("fetching queue: %w", err)
	}

	q := &Queue{}
	if out.CurrentlyPlaying != nil {
		q.CurrentlyPlaying = out.CurrentlyPlaying.toTrack()
	}
	for i := range out.Queue {
		q.NextUp = append(q.NextUp, *out.Queue[i].toTrack())
	}
	return q, nil
}

// AddToQueue appends the item identified by uri to the playback queue.
func (c *Client) AddToQueue(ctx context.Context, uri string) error {
	query := url.Values{}
	query.Set("uri", uri)
	return c.do(ctx, http.MethodPost, "/me/player/queue", query, nil, nil, true)
}

// Search runs a track search, scoped to market when non-empty.
func (c *Client) Search(ctx context.Context, q, market string, limit int) (*SearchResults, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	query := url.Values{}
	query.Set("q", q)
	query.Set("type", "track")
	query.Set("limit", strconv.Itoa(limit))
	if market != "" {
		query.Set("market", market)
	}

	var out struct {
		Tracks struct {
			Items []apiTrack `json:"items"`
			Total int        `json:"total"`
		} `json:"tracks"`
	}
	if err := c.do(ctx, http.MethodGet, "/search", query, nil, &out, true); err != nil {
		return nil, fmt.Errorf("searching tracks: %w", err)
	}

	results := &SearchResults{Total: out.Tracks.Total}
	for i := range out.Tracks.Items {
		results.Tracks = append(results.Tracks, *out.Tracks.Items[i].toTrack())
	}
	return results, nil
}

// SavedTracks reads one page of the account's library.
func (c *Client) SavedTracks(ctx context.Context, limit, offset int) (*SavedTracksPage, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var out struct {
		Items []struct {
			Track apiTrack `json:"track"`
		} `json:"items"`
		Total int `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/tracks", query, nil, &out, true); err != nil {
		return nil, fmt.Errorf("fetching saved tracks: %w", err)
	}

	page := &SavedTracksPage{Total: out.Total, Limit: limit, Offset: offset}
	for i := range out.Items {
		page.Items = append(page.Items, *out.Items[i].Track.toTrack())
	}
	return page, nil
}

// SaveTracks adds the given track IDs to the account's library.
func (c *Client) SaveTracks(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	return c.do(ctx, http.MethodPut, "/me/tracks", query, nil, nil, true)
}

// RemoveSavedTracks removes the given track IDs from the account's library.
func (c *Client) RemoveSavedTracks(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	return c.do(ctx, http.MethodDelete, "/me/tracks", query, nil, nil, true)
}

// CurrentProfile fetches the linked account's descriptor.
func (c *Client) CurrentProfile(ctx context.Context) (*AccountProfile, error) {
	var profile AccountProfile
	if err := c.do(ctx, http.MethodGet, "/me", nil, nil, &profile, true); err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	return &profile, nil
}
