// Package logx is the structured logger used across standupbot.
//
// It wraps zerolog behind a small value type (logx.Logger) so components can:
//   - derive child loggers with fixed fields (comp=engine, chat_id=...)
//   - keep working across runtime config reloads (Service.Apply swaps sinks)
//   - fan out to console, a JSON log file and, optionally, a Telegram log chat
package logx
