package standup

import "context"

// Action is the side effect performed when a chat's schedule comes due.
// The engine ignores the returned error beyond logging it; retries belong
// inside the action.
type Action interface {
	Dispatch(ctx context.Context, chatID int64) error
}

type ActionFunc func(ctx context.Context, chatID int64) error

func (f ActionFunc) Dispatch(ctx context.Context, chatID int64) error { return f(ctx, chatID) }
