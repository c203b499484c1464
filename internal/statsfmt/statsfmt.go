// Package statsfmt aggregates per-user/per-group racedata statistics and
// formats the one-line summary the racestats CLI prints, grounded on
// original_source/zipscript/src/racestats.c's readrace/sortstats/convert
// pipeline (spec.md §4.4's read_race operation).
package statsfmt

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/somecodingdude/pzs-ng/internal/racedata"
)

// UserStats is one uploader's tally across the release.
type UserStats struct {
	Name  string
	Files int
	Bad   int
	Size  uint64
	Speed uint64 // sum of per-file speed samples
}

// GroupStats is one group's tally across the release.
type GroupStats struct {
	Name  string
	Files int
	Size  uint64
}

// Aggregator implements racedata.StatsAggregator, the per-entry callback
// read_race drives (spec.md §4.4).
type Aggregator struct {
	users        map[string]*UserStats
	groups       map[string]*GroupStats
	totalFiles   int
	totalMissing int
	totalSize    uint64
	totalSpeed   uint64
	nfoSeen      bool
	fastestUser  string
	fastestSpeed uint64
	slowestUser  string
	slowestSpeed uint64
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		users:        make(map[string]*UserStats),
		groups:       make(map[string]*GroupStats),
		slowestSpeed: math.MaxUint64,
	}
}

var _ racedata.StatsAggregator = (*Aggregator)(nil)

func (a *Aggregator) user(name string) *UserStats {
	u, ok := a.users[name]
	if !ok {
		u = &UserStats{Name: name}
		a.users[name] = u
	}

	return u
}

func (a *Aggregator) group(name string) *GroupStats {
	g, ok := a.groups[name]
	if !ok {
		g = &GroupStats{Name: name}
		a.groups[name] = g
	}

	return g
}

// AddNotCheckedOrChecked counts e toward uname/group's user/group totals
// (spec.md §4.4: NotChecked/Checked both count toward totals).
func (a *Aggregator) AddNotCheckedOrChecked(uname, group string, e racedata.RaceEntry) {
	u := a.user(uname)
	u.Files++
	u.Size += e.Size
	u.Speed += e.Speed

	g := a.group(group)
	g.Files++
	g.Size += e.Size

	a.totalFiles++
	a.totalSize += e.Size
	a.totalSpeed += e.Speed

	if e.Speed > a.fastestSpeed {
		a.fastestSpeed = e.Speed
		a.fastestUser = uname
	}

	if e.Speed < a.slowestSpeed {
		a.slowestSpeed = e.Speed
		a.slowestUser = uname
	}
}

// AddBad counts e's user toward a separate bad-file tally (spec.md §4.4).
func (a *Aggregator) AddBad(uname, group string, e racedata.RaceEntry) {
	a.user(uname).Bad++
	a.totalMissing++
}

// AddNfo records that an Nfo entry was present (spec.md §4.4).
func (a *Aggregator) AddNfo(uname, group string, e racedata.RaceEntry) {
	a.nfoSeen = true
}

// Users returns every user's stats, sorted by descending file count (the
// way sortstats ranks uploaders).
func (a *Aggregator) Users() []UserStats {
	out := make([]UserStats, 0, len(a.users))
	for _, u := range a.users {
		out = append(out, *u)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Files != out[j].Files {
			return out[i].Files > out[j].Files
		}

		return out[i].Name < out[j].Name
	})

	return out
}

// Groups returns every group's stats, sorted by descending file count.
func (a *Aggregator) Groups() []GroupStats {
	out := make([]GroupStats, 0, len(a.groups))
	for _, g := range a.groups {
		out = append(out, *g)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Files != out[j].Files {
			return out[i].Files > out[j].Files
		}

		return out[i].Name < out[j].Name
	})

	return out
}

// TotalUsers and TotalGroups report the distinct-user/group counts the
// racestats main loop checks before printing anything (spec.md §6: only
// print a line when there were any users).
func (a *Aggregator) TotalUsers() int  { return len(a.users) }
func (a *Aggregator) TotalGroups() int { return len(a.groups) }

// FormatLine renders the one-line summary racestats prints, in the
// spirit of convert(..., stats_line): file count, missing/bad count, total
// size, average per-file speed, user count with the top uploader, group
// count, and an NFO marker when one was seen. The fastest/slowest speeds
// the Aggregator tracks are not printed.
func (a *Aggregator) FormatLine() string {
	if a.TotalUsers() == 0 {
		return ""
	}

	users := a.Users()
	top := users[0]

	var avgSpeed uint64
	if a.totalFiles > 0 {
		avgSpeed = a.totalSpeed / uint64(a.totalFiles)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Files: %d | Missing/Bad: %d | Size: %s | Avg Speed: %s/s",
		a.totalFiles, a.totalMissing, formatSize(a.totalSize), formatSize(avgSpeed))

	fmt.Fprintf(&b, " | Users: %d (top: %s, %d files) | Groups: %d",
		a.TotalUsers(), top.Name, top.Files, a.TotalGroups())

	if a.nfoSeen {
		b.WriteString(" | NFO")
	}

	return b.String()
}

func formatSize(bytes uint64) string {
	const unit = 1024

	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}

	div, exp := uint64(unit), 0

	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f%ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
