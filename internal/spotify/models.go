package spotify

import "time"

// ExpiryMargin is subtracted from the server-declared token lifetime so a
// refresh always fires before the token actually expires.
const ExpiryMargin = 60 * time.Second

// TokenSet is the persisted credential state for the linked account.
// It is owned by the token engine: only code exchange and refresh mutate it,
// and every mutation is written through to the configured store.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
}

// Expired reports whether the access token is past its (margin-adjusted)
// expiry and must be refreshed before use.
func (t *TokenSet) Expired() bool {
	return time.Now().After(t.ExpiresAt)
}

// AccountProfile is the cached descriptor of the linked remote account.
// It is rebuilt after every successful token acquisition and is allowed to
// be stale between refreshes; playback never depends on it.
type AccountProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Product     string `json:"product"`
	Country     string `json:"country"`
}

// Device is a playback output registered with the remote account.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	IsRestricted  bool   `json:"is_restricted"`
	VolumePercent int    `json:"volume_percent"`
}

// Track describes a playable item.
type Track struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists"`
	Album      string   `json:"album"`
	DurationMs int      `json:"duration_ms"`
	ImageURL   string   `json:"image_url,omitempty"`
}

// PlaybackSnapshot is a point-in-time view of remote playback state.
// It is rebuilt from a live poll on every fetch and never persisted.
type PlaybackSnapshot struct {
	IsPlaying    bool      `json:"is_playing"`
	ProgressMs   int       `json:"progress_ms"`
	Track        *Track    `json:"track,omitempty"`
	Device       *Device   `json:"device,omitempty"`
	ShuffleState bool      `json:"shuffle_state"`
	RepeatState  string    `json:"repeat_state,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasActiveDevice reports whether the snapshot's device claims to be the
// account's active playback target.
func (s *PlaybackSnapshot) HasActiveDevice() bool {
	return s != nil && s.Device != nil && s.Device.IsActive
}

// Queue is the currently playing item plus the upcoming items.
type Queue struct {
	CurrentlyPlaying *Track  `json:"currently_playing,omitempty"`
	NextUp           []Track `json:"next_up"`
}

// SearchResults holds the track and playlist hits for a search query.
type SearchResults struct {
	Tracks []Track `json:"tracks"`
	Total  int     `json:"total"`
}

// SavedTracksPage is one page of the account's library.
type SavedTracksPage struct {
	Items  []Track `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Valid repeat states accepted by the player API.
const (
	RepeatOff     = "off"
	RepeatTrack   = "track"
	RepeatContext = "context"
)
