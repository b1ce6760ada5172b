package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders Telegram-friendly help in HTML parse mode.
func (r *Router) helpText(args []string) string {
	r.mu.RLock()
	reg := r.cmds
	alias := r.alias
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	if len(args) > 0 {
		word := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(args[0]), "/"))
		c := reg[word]
		if c == nil {
			if canon, ok := alias[word]; ok {
				c = reg[canon]
			}
		}
		if c == nil {
			return strings.Join([]string{
				"❓ <b>Unknown command</b>",
				"Type <code>/help</code> to list available commands.",
			}, "\n")
		}
		return helpCommandHTML(c, alias)
	}

	lines := []string{
		"📚 <b>Commands</b>",
		"Type <code>/help &lt;command&gt;</code> for details.",
		"",
	}

	// Owner-only commands at the bottom, alphabetical within groups.
	sort.SliceStable(order, func(i, j int) bool {
		li := reg[order[i]] != nil && reg[order[i]].Access == AccessOwnerOnly
		lj := reg[order[j]] != nil && reg[order[j]].Access == AccessOwnerOnly
		if li != lj {
			return !li
		}
		return order[i] < order[j]
	})

	for _, name := range order {
		c := reg[name]
		if c == nil {
			continue
		}
		prefix := "• "
		if c.Access == AccessOwnerOnly {
			prefix = "• 🔒 "
		}
		suffix := ""
		if d := strings.TrimSpace(c.Description); d != "" {
			suffix = " – " + html.EscapeString(d)
		}
		lines = append(lines, prefix+"<code>/"+html.EscapeString(name)+"</code>"+suffix)
	}

	return strings.Join(lines, "\n")
}

func helpCommandHTML(c *Command, alias map[string]string) string {
	lines := []string{"📚 <b>Help</b> <code>/" + html.EscapeString(c.Name) + "</code>"}

	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 <i>Owner only</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
	}

	var names []string
	for a, canon := range alias {
		if canon == c.Name {
			names = append(names, a)
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		lines = append(lines, "", "<b>Aliases</b>")
		for _, a := range names {
			lines = append(lines, "• <code>/"+html.EscapeString(a)+"</code>")
		}
	}

	return strings.Join(lines, "\n")
}
