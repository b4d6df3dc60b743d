package router

import (
	"html"
	"strings"
)

// helpText renders the command list in HTML parse mode, in registration order.
func (m *CommandManager) helpText() string {
	m.mu.RLock()
	order := m.order
	m.mu.RUnlock()

	lines := []string{"📚 <b>Commands</b>", ""}
	for _, c := range order {
		usage := strings.TrimSpace(c.Usage)
		if usage == "" {
			usage = "/" + c.Name
		}
		line := "• <code>" + html.EscapeString(usage) + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
