package standup

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	kit "standupbot/internal/transport"
	logx "standupbot/pkg/logx"
	"standupbot/pkg/tgui"
)

const memberLookupTimeout = 10 * time.Second

// DefaultQuestions are sent when the config provides none.
var DefaultQuestions = []string{
	"What did you finish yesterday?",
	"What are you working on today?",
	"Is anything blocking you?",
}

// Transport is the part of the chat adapter the messenger uses.
type Transport interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	ListChatMembers(ctx context.Context, chatID int64) ([]kit.Member, error)
}

type MessengerConfig struct {
	Title          string
	Questions      []string
	MentionMembers bool
	RatePerSec     int
	RetryMax       int
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
	MemberCacheTTL time.Duration
}

// Messenger is the production Action: it renders the standup questions,
// mentions the chat's members and sends the result.
type Messenger struct {
	tr  Transport
	log logx.Logger

	mu      sync.RWMutex
	cfg     MessengerConfig
	limiter *rate.Limiter

	breaker *gobreaker.CircuitBreaker[kit.MessageRef]

	sf      singleflight.Group
	cacheMu sync.Mutex
	cache   map[int64]memberEntry

	nowFn func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type memberEntry struct {
	members []kit.Member
	expires time.Time
}

var _ Action = (*Messenger)(nil)

func NewMessenger(tr Transport, cfg MessengerConfig, log logx.Logger) *Messenger {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Messenger{
		tr:    tr,
		log:   log,
		cache: map[int64]memberEntry{},
		nowFn: time.Now,
		sleep: sleepCtx,
	}
	m.breaker = gobreaker.NewCircuitBreaker[kit.MessageRef](gobreaker.Settings{
		Name:        "telegram.send",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", logx.String("breaker", name), logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
	m.Apply(cfg)
	return m
}

func (m *Messenger) Apply(cfg MessengerConfig) {
	if strings.TrimSpace(cfg.Title) == "" {
		cfg.Title = "Daily standup"
	}
	if len(cfg.Questions) == 0 {
		cfg.Questions = DefaultQuestions
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.MemberCacheTTL <= 0 {
		cfg.MemberCacheTTL = 10 * time.Minute
	}
	m.mu.Lock()
	m.cfg = cfg
	// burst = rate so a handful of chats due at the same minute go out together
	m.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	m.mu.Unlock()
}

func (m *Messenger) config() (MessengerConfig, *rate.Limiter) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg, m.limiter
}

func (m *Messenger) Dispatch(ctx context.Context, chatID int64) error {
	return m.send(ctx, chatID, m.Render(ctx, chatID))
}

// Render builds the HTML standup message for chatID. A failed member lookup
// only drops the mention line.
func (m *Messenger) Render(ctx context.Context, chatID int64) string {
	cfg, _ := m.config()

	var b strings.Builder
	b.WriteString(tgui.B(cfg.Title).String())
	b.WriteString("\n\n")
	for i, q := range cfg.Questions {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(tgui.Esc(q).String())
		b.WriteString("\n")
	}

	if cfg.MentionMembers {
		members, err := m.members(ctx, chatID, cfg.MemberCacheTTL)
		if err != nil {
			m.log.Warn("member lookup failed; sending without mentions", logx.ChatID(chatID), logx.Err(err))
		} else if len(members) > 0 {
			parts := make([]tgui.H, 0, len(members))
			for _, mem := range members {
				parts = append(parts, tgui.Mention(mem.DisplayName, mem.ID))
			}
			b.WriteString("\n")
			b.WriteString(tgui.JoinH(" ", parts...).String())
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Messenger) members(ctx context.Context, chatID int64, ttl time.Duration) ([]kit.Member, error) {
	now := m.nowFn()
	m.cacheMu.Lock()
	ent, ok := m.cache[chatID]
	m.cacheMu.Unlock()
	if ok && now.Before(ent.expires) {
		return ent.members, nil
	}

	// the lookup is shared by every waiting dispatch, so it must not die
	// with the first caller's deadline
	v, err, _ := m.sf.Do(strconv.FormatInt(chatID, 10), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), memberLookupTimeout)
		defer cancel()
		list, err := m.tr.ListChatMembers(lctx, chatID)
		if err != nil {
			return nil, err
		}
		m.cacheMu.Lock()
		m.cache[chatID] = memberEntry{members: list, expires: m.nowFn().Add(ttl)}
		m.cacheMu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]kit.Member), nil
}

// InvalidateMembers drops the cached member list for chatID.
func (m *Messenger) InvalidateMembers(chatID int64) {
	m.cacheMu.Lock()
	delete(m.cache, chatID)
	m.cacheMu.Unlock()
}

func (m *Messenger) send(ctx context.Context, chatID int64, text string) error {
	cfg, lim := m.config()
	to := kit.ChatTarget{ChatID: chatID}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

	var lastErr error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 {
			wait := backoff(cfg.RetryBase, cfg.RetryMaxDelay, attempt)
			m.log.Warn("send failed; retrying", logx.ChatID(chatID), logx.Int("attempt", attempt), logx.Duration("backoff", wait), logx.Err(lastErr))
			if err := m.sleep(ctx, wait); err != nil {
				return err
			}
		}
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		_, err := m.breaker.Execute(func() (kit.MessageRef, error) {
			return m.tr.SendText(ctx, to, text, opt)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

// backoff is exponential with 20% jitter, capped at maxDelay.
func backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}
	if j := int64(d) / 5; j > 0 {
		d += time.Duration(rand.Int63n(j + 1))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
