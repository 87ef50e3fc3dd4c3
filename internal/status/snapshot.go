// ABOUTME: Agent status snapshot derived from live protocol client state.
// ABOUTME: Offline snapshots carry only the online flag.

package status

import (
	"fmt"
	"math"
	"sort"

	"github.com/2389/coven-fleet/internal/protocol"
)

// DefaultScoreboardLines caps scoreboard output when Options leaves it unset.
const DefaultScoreboardLines = 10

// Dimension display names.
const (
	DimensionOverworld = "Overworld"
	DimensionNether    = "Nether"
	DimensionEnd       = "End"
	DimensionUnknown   = "Unknown"
)

// Snapshot is the status of one agent. Every field except Online is nil or
// empty when the agent is offline.
type Snapshot struct {
	Username   string          `json:"username,omitempty"`
	Online     bool            `json:"online"`
	Alive      *bool           `json:"alive,omitempty"`
	Health     *int            `json:"health,omitempty"`
	Food       *int            `json:"food,omitempty"`
	Dimension  string          `json:"dimension,omitempty"`
	Position   string          `json:"position,omitempty"`
	Scoreboard *ScoreboardView `json:"scoreboard,omitempty"`
}

// ScoreboardView is the top of the sidebar objective, formatted "name: score".
type ScoreboardView struct {
	Title string   `json:"title"`
	Lines []string `json:"lines"`
}

// Options controls snapshot derivation.
type Options struct {
	ScoreboardLines int
}

// Offline is the snapshot of an agent with no usable connection.
func Offline() Snapshot {
	return Snapshot{Online: false}
}

// Aggregate builds the snapshot for c. A nil client, a client without a
// player record, or one without an entity yields Offline.
func Aggregate(c protocol.Client, opts Options) Snapshot {
	if c == nil || !c.Player() {
		return Offline()
	}
	e := c.Entity()
	if e == nil {
		return Offline()
	}

	alive := e.Health > 0
	health := roundHalfUp(e.Health)
	food := roundHalfUp(e.Food)

	return Snapshot{
		Username:   c.Username(),
		Online:     true,
		Alive:      &alive,
		Health:     &health,
		Food:       &food,
		Dimension:  DimensionName(c.Dimension()),
		Position:   formatPosition(e.Position),
		Scoreboard: ReadScoreboard(c, opts.ScoreboardLines),
	}
}

// DimensionName maps a raw dimension identifier to its display name.
func DimensionName(id string) string {
	switch id {
	case "minecraft:overworld":
		return DimensionOverworld
	case "minecraft:the_nether":
		return DimensionNether
	case "minecraft:the_end":
		return DimensionEnd
	default:
		return DimensionUnknown
	}
}

// ReadScoreboard returns the top maxLines sidebar entries by descending
// score, ties in source order. Any failure reading the sidebar yields nil.
func ReadScoreboard(c protocol.Client, maxLines int) (view *ScoreboardView) {
	defer func() {
		if r := recover(); r != nil {
			view = nil
		}
	}()

	if maxLines <= 0 {
		maxLines = DefaultScoreboardLines
	}

	obj, err := c.Sidebar()
	if err != nil || obj == nil {
		return nil
	}

	scores := append([]protocol.Score(nil), obj.Scores...)
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Value > scores[j].Value
	})
	if len(scores) > maxLines {
		scores = scores[:maxLines]
	}

	lines := make([]string, len(scores))
	for i, s := range scores {
		lines[i] = fmt.Sprintf("%s: %d", s.Name, s.Value)
	}

	title := obj.DisplayName
	if title == "" {
		title = obj.Name
	}
	return &ScoreboardView{Title: title, Lines: lines}
}

// AnyOnline reports whether at least one snapshot is online.
func AnyOnline(snaps map[string]Snapshot) bool {
	for _, s := range snaps {
		if s.Online {
			return true
		}
	}
	return false
}

// SortedIDs returns the agent IDs of snaps in lexical order.
func SortedIDs(snaps map[string]Snapshot) []string {
	ids := make([]string, 0, len(snaps))
	for id := range snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func formatPosition(p protocol.Vec3) string {
	return fmt.Sprintf("%d, %d, %d",
		int(math.Floor(p.X)), int(math.Floor(p.Y)), int(math.Floor(p.Z)))
}
