package types

// Identity is the resolved principal bound to a connection. UserID is empty
// for anonymous users; ScreenName is globally unique among active
// connections for both variants.
type Identity struct {
	UserID     string `json:"user_id,omitempty"`
	ScreenName string `json:"screen_name"`
}

// Authenticated reports whether the identity was produced by the external
// credential verifier rather than claimed anonymously.
func (i Identity) Authenticated() bool { return i.UserID != "" }

// ClientMessage is one inbound JSON frame from a client.
type ClientMessage struct {
	Type       string `json:"type"`
	Token      string `json:"token,omitempty"`
	ScreenName string `json:"screen_name,omitempty"`
	Channel    string `json:"channel,omitempty"`
	// Data carries base64-encoded audio for audio_data frames.
	Data       string `json:"data,omitempty"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	// ExcludeSender defaults to true when absent.
	ExcludeSender *bool `json:"exclude_sender,omitempty"`
}

// ServerMessage is one outbound JSON frame. Fields are populated per Type;
// everything else stays omitted on the wire.
type ServerMessage struct {
	Type         string           `json:"type"`
	Code         string           `json:"code,omitempty"`
	Message      string           `json:"message,omitempty"`
	Channel      string           `json:"channel,omitempty"`
	UserID       string           `json:"user_id,omitempty"`
	ScreenName   string           `json:"screen_name,omitempty"`
	Participants int              `json:"participants,omitempty"`
	Speaking     *bool            `json:"speaking,omitempty"`
	Data         string           `json:"data,omitempty"`
	Format       string           `json:"format,omitempty"`
	SampleRate   int              `json:"sample_rate,omitempty"`
	Channels     int              `json:"channels,omitempty"`
	Messages     []HistoryMessage `json:"messages,omitempty"`
}

// HistoryMessage is the wire form of one persisted transmission inside a
// history_response.
type HistoryMessage struct {
	ScreenName string `json:"screen_name"`
	AudioData  string `json:"audio_data"`
	SampleRate int    `json:"sample_rate"`
	Duration   int    `json:"duration"`
	Timestamp  int64  `json:"timestamp"`
}

// HistoryEntry is one completed transmission as stored durably. Timestamp
// is epoch milliseconds; DurationMs is derived from the PCM payload length.
type HistoryEntry struct {
	ID         string
	Channel    string
	UserID     string // empty means anonymous, stored as NULL
	ScreenName string
	Audio      []byte
	SampleRate int
	DurationMs int
	Timestamp  int64
}

// ServerStats is the snapshot served by /api/stats.
type ServerStats struct {
	Connections    int `json:"connections"`
	Identified     int `json:"identified"`
	Channels       int `json:"channels"`
	ActiveSpeakers int `json:"active_speakers"`
	DroppedFrames  int `json:"dropped_frames"`
}

// ChannelInfo is the public channel listing served by /api/channels.
type ChannelInfo struct {
	Channel      string `json:"channel"`
	Participants int    `json:"participants"`
	Speaking     bool   `json:"speaking"`
}
