package client

import "strings"

// handleTabCompletion extends a partially typed command name to the longest
// unambiguous prefix among known commands.
func (a *App) handleTabCompletion() {
	value := a.input.Value()
	if value == "" || a.input.Position() != len([]rune(value)) {
		return
	}
	if !strings.HasPrefix(value, string(a.cfg.CommandPrefix)) || strings.ContainsAny(value, " \t") {
		return
	}

	var matches []string
	for _, cmd := range a.commands {
		if strings.HasPrefix(cmd.trigger, value) {
			matches = append(matches, cmd.trigger)
		}
	}
	if len(matches) == 0 {
		return
	}

	completed := longestCommonPrefix(matches)
	if len(matches) == 1 {
		completed += " "
	}
	if len(completed) <= len(value) {
		return
	}
	a.input.SetValue(completed)
	a.input.CursorEnd()
}

func longestCommonPrefix(values []string) string {
	if len(values) == 0 {
		return ""
	}
	prefix := values[0]
	for _, s := range values[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
