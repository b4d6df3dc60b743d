package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Standup  StandupConfig  `json:"standup"`
	Ops      OpsConfig      `json:"ops,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via $TOKEN.
	Token string `json:"token" validate:"required"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty" validate:"omitempty,duration"`
	// GroupLog is the chat that receives log records when logging.telegram is enabled.
	GroupLog int64 `json:"group_log,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,loglevel"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id" validate:"gte=0"`
	MinLevel   string `json:"min_level" validate:"omitempty,loglevel"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// StandupConfig controls the schedules and the message sent when one fires.
//
// All durations are Go duration strings. Defaults (when omitted):
//   - timezone: "Asia/Jakarta"
//   - default_time: "09:00"
//   - default_weekdays: "mon-fri"
//   - dispatch_timeout: "30s"
//   - send_rate_per_sec: 3
//   - retry_base: "1s"
//   - member_cache_ttl: "10m"
type StandupConfig struct {
	Timezone        string `json:"timezone,omitempty" validate:"omitempty,timezone"`
	DefaultTime     string `json:"default_time,omitempty" validate:"omitempty,hhmm"`
	DefaultWeekdays string `json:"default_weekdays,omitempty" validate:"omitempty,weekdays"`

	// Chats get the default schedule at startup. $GROUP_CHAT_ID is appended.
	Chats []int64 `json:"chats,omitempty" validate:"dive,ne=0"`

	Title          string   `json:"title,omitempty"`
	Questions      []string `json:"questions,omitempty" validate:"dive,required"`
	MentionMembers bool     `json:"mention_members"`

	DispatchTimeout string `json:"dispatch_timeout,omitempty" validate:"omitempty,duration"`
	SendRatePerSec  int    `json:"send_rate_per_sec,omitempty" validate:"gte=0"`
	RetryMax        int    `json:"retry_max,omitempty" validate:"gte=0,lte=10"`
	RetryBase       string `json:"retry_base,omitempty" validate:"omitempty,duration"`
	MemberCacheTTL  string `json:"member_cache_ttl,omitempty" validate:"omitempty,duration"`
}

// OpsConfig controls the optional HTTP server exposing health, schedules and pprof.
//
// Prefer binding to localhost. A non-loopback addr needs a token or allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"` // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`                                   // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty" validate:"omitempty,duration"`
	WriteTimeout string `json:"write_timeout,omitempty" validate:"omitempty,duration"`
	IdleTimeout  string `json:"idle_timeout,omitempty" validate:"omitempty,duration"`
}
