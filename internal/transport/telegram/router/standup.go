package router

import (
	"context"
	"html"
	"strings"

	"standupbot/internal/standup"
	logx "standupbot/pkg/logx"
	"standupbot/pkg/tgui"
)

// StandupService is what the standup commands need from the scheduling layer.
type StandupService interface {
	SetSchedule(chatID int64, rawTime, rawWeekdays string) (standup.Info, error)
	TriggerNow(ctx context.Context, chatID int64) error
	Cancel(chatID int64) bool
	Get(chatID int64) (standup.Info, bool)
	Defaults() standup.Defaults
	Zone() string
}

const settimeUsage = "/settime HH:MM [weekdays]"

// StandupCommands returns /start, /standup, /settime, /schedule and /cancel.
func StandupCommands(svc StandupService) []Command {
	return []Command{
		{
			Name:        "start",
			Description: "introduction",
			Usage:       "/start",
			Handle: func(ctx context.Context, req *Request) error {
				d := svc.Defaults()
				text := strings.Join([]string{
					"👋 Hi! I post the daily standup questions in this chat.",
					"",
					"Use " + tgui.Code(settimeUsage).String() + " to schedule them (" + html.EscapeString(svc.Zone()) + ").",
					"Without weekdays the schedule runs " + html.EscapeString(d.Weekdays.String()) + ".",
					"Use /standup to post them right now.",
				}, "\n")
				_, err := req.Reply(ctx, text)
				return err
			},
		},
		{
			Name:        "standup",
			Description: "post the standup questions now",
			Usage:       "/standup",
			Handle: func(ctx context.Context, req *Request) error {
				return svc.TriggerNow(ctx, req.Chat.ChatID)
			},
		},
		{
			Name:        "settime",
			Description: "schedule the daily standup",
			Usage:       settimeUsage,
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) == 0 {
					return &UsageError{Usage: settimeUsage}
				}
				inf, err := svc.SetSchedule(req.Chat.ChatID, req.Args[0], joinWeekdayArgs(req.Args[1:]))
				if err != nil {
					return err
				}
				req.Logger.Info("schedule set",
					logx.String("time", inf.Time.String()),
					logx.String("weekdays", inf.Weekdays.String()),
				)
				_, err = req.Reply(ctx, "✅ Standup scheduled.\n"+describe(inf))
				return err
			},
		},
		{
			Name:        "schedule",
			Description: "show the current schedule",
			Usage:       "/schedule",
			Handle: func(ctx context.Context, req *Request) error {
				inf, ok := svc.Get(req.Chat.ChatID)
				if !ok {
					_, err := req.Reply(ctx, "No standup is scheduled here. Use "+tgui.Code(settimeUsage).String()+".")
					return err
				}
				_, err := req.Reply(ctx, describe(inf))
				return err
			},
		},
		{
			Name:        "cancel",
			Description: "remove the schedule",
			Usage:       "/cancel",
			Handle: func(ctx context.Context, req *Request) error {
				text := "No standup was scheduled here."
				if svc.Cancel(req.Chat.ChatID) {
					text = "🗑 Standup schedule removed."
				}
				_, err := req.Reply(ctx, text)
				return err
			},
		},
	}
}

// joinWeekdayArgs lets "/settime 09:00 mon, wed fri" mean "mon,wed,fri".
func joinWeekdayArgs(args []string) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		for _, p := range strings.Split(a, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
	}
	return strings.Join(parts, ",")
}

func describe(inf standup.Info) string {
	lines := []string{
		"🕘 " + tgui.B(inf.Time.String()).String() + " " + html.EscapeString(inf.Zone),
		"📅 " + html.EscapeString(inf.Weekdays.String()),
	}
	if inf.Next.IsZero() {
		lines = append(lines, "💤 dormant (no weekdays selected)")
	} else {
		lines = append(lines, "⏭ next: "+html.EscapeString(inf.Next.Format("Mon 02 Jan 15:04")))
	}
	return strings.Join(lines, "\n")
}
