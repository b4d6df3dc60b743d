package config

import (
	"fmt"
	"strings"
	"time"

	"standupbot/internal/clock"
	"standupbot/internal/standup"
)

const (
	DefaultTimezone        = "Asia/Jakarta"
	DefaultStandupTime     = "09:00"
	DefaultStandupWeekdays = "mon-fri"
	DefaultOpsAddr         = "127.0.0.1:6060"
)

// StandupSettings is StandupConfig with defaults applied and every field parsed.
type StandupSettings struct {
	Location        *time.Location
	Defaults        standup.Defaults
	Chats           []int64
	DispatchTimeout time.Duration
	Messenger       standup.MessengerConfig
}

func (c StandupConfig) Resolve() (StandupSettings, error) {
	var out StandupSettings

	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := clock.LoadLocation(tz)
	if err != nil {
		return out, fmt.Errorf("standup.timezone: %w", err)
	}
	out.Location = loc

	raw := strings.TrimSpace(c.DefaultTime)
	if raw == "" {
		raw = DefaultStandupTime
	}
	tod, err := standup.ParseTimeOfDay(raw)
	if err != nil {
		return out, fmt.Errorf("standup.default_time: %w", err)
	}
	raw = strings.TrimSpace(c.DefaultWeekdays)
	if raw == "" {
		raw = DefaultStandupWeekdays
	}
	days, err := standup.ParseWeekdays(raw)
	if err != nil {
		return out, fmt.Errorf("standup.default_weekdays: %w", err)
	}
	out.Defaults = standup.Defaults{Time: tod, Weekdays: days}

	if out.DispatchTimeout, err = ParseDurationOrDefault("standup.dispatch_timeout", c.DispatchTimeout, 30*time.Second); err != nil {
		return out, err
	}
	retryBase, err := ParseDurationOrDefault("standup.retry_base", c.RetryBase, time.Second)
	if err != nil {
		return out, err
	}
	ttl, err := ParseDurationOrDefault("standup.member_cache_ttl", c.MemberCacheTTL, 10*time.Minute)
	if err != nil {
		return out, err
	}

	seen := make(map[int64]struct{}, len(c.Chats))
	for _, id := range c.Chats {
		if _, dup := seen[id]; dup || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		out.Chats = append(out.Chats, id)
	}

	out.Messenger = standup.MessengerConfig{
		Title:          strings.TrimSpace(c.Title),
		Questions:      c.Questions,
		MentionMembers: c.MentionMembers,
		RatePerSec:     c.SendRatePerSec,
		RetryMax:       c.RetryMax,
		RetryBase:      retryBase,
		MemberCacheTTL: ttl,
	}
	return out, nil
}
