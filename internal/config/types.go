package config

// Config is the root configuration for the herald process.
//
// The file may be JSON or YAML; both are decoded strictly (unknown fields are
// rejected) so typos fail fast instead of being silently ignored.
type Config struct {
	Telegram Telegram `json:"telegram"`
	Items    Items    `json:"items"`
	Server   Server   `json:"server"`
	Logging  Logging  `json:"logging"`
	Storage  Storage  `json:"storage"`

	Notifications Notifications `json:"notifications"`
	Reminders     Reminders     `json:"reminders"`
	Engine        Engine        `json:"engine"`
}

// Telegram configures the chat platform adapter.
//
// WorkspaceChat is the forum supergroup that plays the role of the workspace:
// notification channels are forum topics inside it.
type Telegram struct {
	Token         string `json:"token"`
	WorkspaceChat int64  `json:"workspace_chat"`
	PollTimeout   string `json:"poll_timeout,omitempty"` // Go duration string
}

// Items configures the work-item service HTTP client.
type Items struct {
	BaseURL   string `json:"base_url"`
	Token     string `json:"token"`
	Workspace string `json:"workspace"`
	Project   string `json:"project,omitempty"`
	Timeout   string `json:"timeout,omitempty"` // Go duration string, default 10s
}

// Server configures the webhook/admin HTTP listener.
type Server struct {
	Addr string `json:"addr"`
	// PublicURL is the externally reachable webhook endpoint, used when
	// registering the webhook with the item service.
	PublicURL  string `json:"public_url,omitempty"`
	AdminToken string `json:"admin_token,omitempty"`
}

type Logging struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// Storage configures the sqlite-backed store for channel bindings, identity
// mappings and notification preferences.
type Storage struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// Notifications controls channel provisioning and outbound delivery.
type Notifications struct {
	// Category is the logical grouping name the registry provisions channels
	// under (rendered as a pinned index topic in the workspace chat).
	Category    string `json:"category,omitempty"` // default "task-events"
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"` // per-call, default 10s
}

// Reminders controls the two scheduled sweeps.
type Reminders struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ, default process local
	// DeadlineAt is the daily missed-deadline sweep time as HH:MM.
	DeadlineAt string `json:"deadline_at,omitempty"` // default "09:00"
	// DueSoonEvery is the due-soon sweep interval.
	DueSoonEvery string `json:"due_soon_every,omitempty"` // default "1h"
	SweepTimeout string `json:"sweep_timeout,omitempty"`  // default "2m"
}

// Engine controls the job queue that decouples webhook ingestion and timer
// ticks from outbound delivery.
type Engine struct {
	Workers   int `json:"workers,omitempty"`    // default 2
	QueueSize int `json:"queue_size,omitempty"` // default 256
}
