package standup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "standupbot/internal/transport"
	logx "standupbot/pkg/logx"
)

type fakeTransport struct {
	mu        sync.Mutex
	sent      []string
	sendErrs  []error // consumed one per SendText call
	members   []kit.Member
	memberErr error
	lookups   int
	lookupCtx []error // ctx.Err() seen by each lookup
}

func (f *fakeTransport) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return kit.MessageRef{}, err
		}
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeTransport) ListChatMembers(ctx context.Context, _ int64) ([]kit.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	f.lookupCtx = append(f.lookupCtx, ctx.Err())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.members, f.memberErr
}

func newTestMessenger(tr *fakeTransport, cfg MessengerConfig) (*Messenger, *[]time.Duration) {
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
	}
	m := NewMessenger(tr, cfg, logx.Nop())
	var slept []time.Duration
	m.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return m, &slept
}

func TestMessengerRender(t *testing.T) {
	tr := &fakeTransport{members: []kit.Member{
		{ID: 11, DisplayName: "Ana"},
		{ID: 12, DisplayName: "Budi <dev>"},
	}}
	m, _ := newTestMessenger(tr, MessengerConfig{
		Title:          "Standup & sync",
		Questions:      []string{"Done?", "Next <today>?"},
		MentionMembers: true,
	})

	got := m.Render(context.Background(), -100)
	want := "<b>Standup &amp; sync</b>\n\n" +
		"1. Done?\n" +
		"2. Next &lt;today&gt;?\n" +
		"\n" +
		`<a href="tg://user?id=11">Ana</a> <a href="tg://user?id=12">Budi &lt;dev&gt;</a>`
	assert.Equal(t, want, got)
}

func TestMessengerRenderDefaults(t *testing.T) {
	m, _ := newTestMessenger(&fakeTransport{}, MessengerConfig{})
	got := m.Render(context.Background(), 1)
	assert.True(t, strings.HasPrefix(got, "<b>Daily standup</b>"), got)
	for _, q := range DefaultQuestions {
		assert.Contains(t, got, q)
	}
	assert.NotContains(t, got, "tg://user")
}

func TestMessengerMemberLookupFailureDropsMentions(t *testing.T) {
	tr := &fakeTransport{memberErr: errors.New("chat not found")}
	m, _ := newTestMessenger(tr, MessengerConfig{MentionMembers: true})

	require.NoError(t, m.Dispatch(context.Background(), 7))
	require.Len(t, tr.sent, 1)
	assert.NotContains(t, tr.sent[0], "tg://user")
}

func TestMessengerCachesMembers(t *testing.T) {
	tr := &fakeTransport{members: []kit.Member{{ID: 1, DisplayName: "A"}}}
	m, _ := newTestMessenger(tr, MessengerConfig{MentionMembers: true, MemberCacheTTL: time.Minute})
	now := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	m.nowFn = func() time.Time { return now }

	m.Render(context.Background(), 1)
	m.Render(context.Background(), 1)
	assert.Equal(t, 1, tr.lookups)

	now = now.Add(2 * time.Minute)
	m.Render(context.Background(), 1)
	assert.Equal(t, 2, tr.lookups, "expired entry is refreshed")

	m.InvalidateMembers(1)
	m.Render(context.Background(), 1)
	assert.Equal(t, 3, tr.lookups)
}

func TestMessengerRetriesThenSucceeds(t *testing.T) {
	tr := &fakeTransport{sendErrs: []error{errors.New("502"), errors.New("502")}}
	m, slept := newTestMessenger(tr, MessengerConfig{RetryMax: 3, RetryBase: 100 * time.Millisecond})

	require.NoError(t, m.Dispatch(context.Background(), 1))
	assert.Len(t, tr.sent, 1)
	require.Len(t, *slept, 2)
	assert.InDelta(t, 110*time.Millisecond, (*slept)[0], float64(10*time.Millisecond))
	assert.InDelta(t, 220*time.Millisecond, (*slept)[1], float64(20*time.Millisecond))
}

func TestMessengerRetriesExhausted(t *testing.T) {
	boom := errors.New("forbidden")
	tr := &fakeTransport{sendErrs: []error{boom, boom, boom}}
	m, slept := newTestMessenger(tr, MessengerConfig{RetryMax: 2, RetryBase: time.Millisecond})

	err := m.Dispatch(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, tr.sent)
	assert.Len(t, *slept, 2)
}

func TestBackoffBounds(t *testing.T) {
	base, maxDelay := 100*time.Millisecond, time.Second
	for attempt := 1; attempt <= 8; attempt++ {
		d := backoff(base, maxDelay, attempt)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, maxDelay+maxDelay/5, "attempt %d", attempt)
	}
}

func TestMessengerMemberLookupOutlivesCallerContext(t *testing.T) {
	tr := &fakeTransport{members: []kit.Member{{ID: 11, DisplayName: "Ana"}}}
	m, _ := newTestMessenger(tr, MessengerConfig{MentionMembers: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := m.Render(ctx, -100)

	assert.Contains(t, got, `<a href="tg://user?id=11">Ana</a>`)
	require.Len(t, tr.lookupCtx, 1)
	assert.NoError(t, tr.lookupCtx[0], "shared lookup must not inherit the caller's cancellation")
}
