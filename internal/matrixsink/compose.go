// ABOUTME: Builds the fleet status document as Markdown and renders it to HTML
// ABOUTME: Agents appear in sorted order so identical state yields identical text

package matrixsink

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/2389/coven-fleet/internal/status"
)

const (
	indicatorOnline  = "🟢"
	indicatorOffline = "🔴"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
	),
)

// Layout carries the settings shown alongside the agent blocks.
type Layout struct {
	AllowWebChat bool
	Interval     time.Duration
}

// Document is one status notice in both plain and formatted forms.
type Document struct {
	Body string
	HTML string
}

// Compose builds the Markdown status document for snaps.
func Compose(snaps map[string]status.Snapshot, layout Layout) string {
	var b strings.Builder

	indicator := indicatorOffline
	if status.AnyOnline(snaps) {
		indicator = indicatorOnline
	}
	fmt.Fprintf(&b, "## %s Fleet Status\n\n", indicator)

	ids := status.SortedIDs(snaps)
	if len(ids) == 0 {
		b.WriteString("_No agents configured._\n\n")
	}
	for _, id := range ids {
		writeAgent(&b, id, snaps[id])
	}

	webChat := "Disabled"
	if layout.AllowWebChat {
		webChat = "Enabled"
	}
	fmt.Fprintf(&b, "**Web Chat:** %s\n\n", webChat)
	fmt.Fprintf(&b, "_Auto updated every %ss_\n", formatSeconds(layout.Interval))
	return b.String()
}

func writeAgent(b *strings.Builder, id string, snap status.Snapshot) {
	fmt.Fprintf(b, "**Bot: %s**\n", escape(id))
	fmt.Fprintf(b, "Online: %s\n", yesNo(snap.Online))
	if snap.Online {
		if snap.Alive != nil {
			fmt.Fprintf(b, "Alive: %s\n", yesNo(*snap.Alive))
		}
		if snap.Health != nil {
			fmt.Fprintf(b, "Health: %d\n", *snap.Health)
		}
		if snap.Food != nil {
			fmt.Fprintf(b, "Food: %d\n", *snap.Food)
		}
		if snap.Dimension != "" {
			fmt.Fprintf(b, "Dimension: %s\n", snap.Dimension)
		}
		if snap.Position != "" {
			fmt.Fprintf(b, "Position: %s\n", snap.Position)
		}
	}
	b.WriteString("\n")

	if sb := snap.Scoreboard; sb != nil {
		fmt.Fprintf(b, "**📊 Scoreboard: %s (%s)**\n", escape(id), escape(sb.Title))
		if len(sb.Lines) == 0 {
			b.WriteString("—\n")
		}
		for _, line := range sb.Lines {
			b.WriteString(escape(line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
}

// Render converts a composed document to its plain and HTML forms.
func Render(markdown string) (Document, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return Document{}, fmt.Errorf("rendering status document: %w", err)
	}
	return Document{Body: markdown, HTML: buf.String()}, nil
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	"`", "\\`",
	`[`, `\[`,
	`]`, `\]`,
	`<`, `&lt;`,
	`>`, `&gt;`,
	`~`, `\~`,
)

// escape keeps player and objective names from being read as Markdown.
func escape(s string) string {
	return markdownEscaper.Replace(s)
}
