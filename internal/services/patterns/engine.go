// Package patterns maintains the ordered include/exclude rule list of one
// backup instance and reduces it to per-root rule sequences for the
// transport tool.
package patterns

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/rs/zerolog"
)

// RootGroup is the self-contained, ordered rule list for one filesystem root.
type RootGroup struct {
	Root     string
	Patterns []models.Pattern
}

// Engine holds the rule list of one instance and its on-disk location.
type Engine struct {
	path     string
	patterns []models.Pattern
	goos     string
	logger   zerolog.Logger
}

// New creates a pattern engine backed by the given file.
func New(logger zerolog.Logger, path string) *Engine {
	return NewWithPlatform(logger, path, runtime.GOOS)
}

// NewWithPlatform creates a pattern engine with an explicit platform name
// (for testing multi-root behavior).
func NewWithPlatform(logger zerolog.Logger, path, goos string) *Engine {
	return &Engine{path: path, goos: goos, logger: logger}
}

// Load parses the patterns file. Lines starting with '#' are a comment
// applying to the next rule, '+'/'-' prefixes mark include/exclude rules.
// Blank and malformed lines are skipped, never failing the whole load.
// A missing file yields an empty rule list.
func (e *Engine) Load() error {
	e.patterns = nil
	f, err := os.Open(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening patterns file: %w", err)
	}
	defer f.Close()

	var comment string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "#"):
			comment = strings.TrimSpace(line[1:])
		case strings.HasPrefix(line, "+") && len(line) > 1:
			e.patterns = append(e.patterns, models.Pattern{Include: true, Pattern: line[1:], Comment: comment})
			comment = ""
		case strings.HasPrefix(line, "-") && len(line) > 1:
			e.patterns = append(e.patterns, models.Pattern{Include: false, Pattern: line[1:], Comment: comment})
			comment = ""
		default:
			if strings.TrimSpace(line) != "" {
				e.logger.Debug().Str("line", line).Msg("skipping malformed pattern line")
			}
			comment = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading patterns file: %w", err)
	}
	return nil
}

// Save writes the rule list back in the line format, atomically.
func (e *Engine) Save() error {
	var b strings.Builder
	for _, p := range e.patterns {
		if p.Comment != "" {
			fmt.Fprintf(&b, "# %s\n", p.Comment)
		}
		prefix := "-"
		if p.Include {
			prefix = "+"
		}
		fmt.Fprintf(&b, "%s%s\n", prefix, p.Pattern)
	}
	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing patterns file: %w", err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		return fmt.Errorf("replacing patterns file: %w", err)
	}
	return nil
}

// Patterns returns the current rule list in order.
func (e *Engine) Patterns() []models.Pattern {
	out := make([]models.Pattern, len(e.patterns))
	copy(out, e.patterns)
	return out
}

// Len returns the number of rules.
func (e *Engine) Len() int { return len(e.patterns) }

// Insert places a rule at the given position. Any existing rule with the
// same glob is removed first, regardless of its include flag, so globs stay
// unique with last-write-wins semantics.
func (e *Engine) Insert(pos int, p models.Pattern) {
	e.Remove(p.Pattern)
	if pos < 0 {
		pos = 0
	}
	if pos > len(e.patterns) {
		pos = len(e.patterns)
	}
	e.patterns = append(e.patterns[:pos], append([]models.Pattern{p}, e.patterns[pos:]...)...)
}

// Append adds a rule at the end, with the same glob-uniqueness guarantee.
func (e *Engine) Append(p models.Pattern) {
	e.Insert(len(e.patterns), p)
}

// Remove deletes the rule with the given glob and reports whether one
// existed.
func (e *Engine) Remove(glob string) bool {
	for i, existing := range e.patterns {
		if existing.Pattern == glob {
			e.patterns = append(e.patterns[:i], e.patterns[i+1:]...)
			return true
		}
	}
	return false
}

// SeedDefaults replaces an empty rule list with the platform defaults.
func (e *Engine) SeedDefaults() {
	if len(e.patterns) > 0 {
		return
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	exists := func(path string) bool {
		matches, _ := filepath.Glob(path)
		return len(matches) > 0
	}
	e.patterns = DefaultPatterns(e.goos, home, exists)
}

// DefaultPatterns returns the built-in platform rule set. User document
// folders are pre-included, OS temp/swap/recycle/metadata paths are
// pre-excluded, and browser bookmark files are included only when exists
// reports them present.
func DefaultPatterns(goos, home string, exists func(glob string) bool) []models.Pattern {
	join := func(parts ...string) string {
		return filepath.ToSlash(filepath.Join(append([]string{home}, parts...)...))
	}
	var out []models.Pattern
	for _, folder := range []string{"Documents", "Pictures", "Desktop", "Music", "Videos", "Downloads"} {
		out = append(out, models.Pattern{Include: true, Pattern: join(folder), Comment: folder + " folder"})
	}

	bookmarks := browserBookmarks(goos, join)
	for _, glob := range bookmarks {
		if exists != nil && exists(glob) {
			out = append(out, models.Pattern{Include: true, Pattern: glob, Comment: "Browser bookmarks"})
		}
	}

	switch goos {
	case "windows":
		out = append(out,
			models.Pattern{Include: false, Pattern: "**/pagefile.sys", Comment: "Swap file"},
			models.Pattern{Include: false, Pattern: "**/swapfile.sys", Comment: "Swap file"},
			models.Pattern{Include: false, Pattern: "**/hiberfil.sys", Comment: "Hibernation file"},
			models.Pattern{Include: false, Pattern: "**/System Volume Information", Comment: "System metadata"},
			models.Pattern{Include: false, Pattern: "**/$RECYCLE.BIN", Comment: "Recycle bin"},
			models.Pattern{Include: false, Pattern: "**/Thumbs.db", Comment: "Thumbnail cache"},
			models.Pattern{Include: false, Pattern: "**/AppData/Local/Temp", Comment: "Temporary files"},
		)
	case "darwin":
		out = append(out,
			models.Pattern{Include: false, Pattern: "**/.DS_Store", Comment: "Finder metadata"},
			models.Pattern{Include: false, Pattern: "**/.Trash", Comment: "Trash"},
			models.Pattern{Include: false, Pattern: join("Library", "Caches"), Comment: "Caches"},
			models.Pattern{Include: false, Pattern: "/private/tmp", Comment: "Temporary files"},
		)
	default:
		out = append(out,
			models.Pattern{Include: false, Pattern: "**/.cache", Comment: "Caches"},
			models.Pattern{Include: false, Pattern: "**/.local/share/Trash", Comment: "Trash"},
			models.Pattern{Include: false, Pattern: "/tmp", Comment: "Temporary files"},
			models.Pattern{Include: false, Pattern: "/swapfile", Comment: "Swap file"},
		)
	}
	out = append(out,
		models.Pattern{Include: false, Pattern: "**/*.swp", Comment: "Editor swap files"},
		models.Pattern{Include: false, Pattern: "**/~*", Comment: "Temporary editor files"},
	)
	return out
}

func browserBookmarks(goos string, join func(parts ...string) string) []string {
	switch goos {
	case "windows":
		return []string{
			join("AppData", "Roaming", "Mozilla", "Firefox", "Profiles", "*", "places.sqlite"),
			join("AppData", "Local", "Google", "Chrome", "User Data", "Default", "Bookmarks"),
		}
	case "darwin":
		return []string{
			join("Library", "Application Support", "Firefox", "Profiles", "*", "places.sqlite"),
			join("Library", "Application Support", "Google", "Chrome", "Default", "Bookmarks"),
			join("Library", "Safari", "Bookmarks.plist"),
		}
	default:
		return []string{
			join(".mozilla", "firefox", "*", "places.sqlite"),
			join(".config", "google-chrome", "Default", "Bookmarks"),
		}
	}
}

// GroupByRoots partitions the rules per filesystem root and returns one
// self-contained, deterministically ordered group per root. An empty rule
// list yields no groups. An include rule reduced to a pure double-wildcard
// is dropped everywhere: it is redundant with the transport's implicit
// default-include semantics.
func (e *Engine) GroupByRoots() []RootGroup {
	if len(e.patterns) == 0 {
		return nil
	}
	if e.goos != "windows" {
		group := make([]models.Pattern, 0, len(e.patterns))
		for _, p := range e.patterns {
			if p.Include && isPureWildcard(p.Pattern) {
				continue
			}
			group = append(group, p)
		}
		if len(group) == 0 {
			return nil
		}
		sortRules(group)
		return []RootGroup{{Root: "/", Patterns: group}}
	}
	return e.groupByDrives()
}

// groupByDrives discovers roots from the drive letters of include rules and
// builds one group per discovered drive.
func (e *Engine) groupByDrives() []RootGroup {
	rootSet := map[string]struct{}{}
	for _, p := range e.patterns {
		if !p.Include || isPureWildcard(p.Pattern) {
			continue
		}
		if root := driveOf(p.Pattern); root != "" {
			rootSet[root] = struct{}{}
		}
	}
	roots := make([]string, 0, len(rootSet))
	for r := range rootSet {
		roots = append(roots, r)
	}
	sort.Strings(roots)

	var out []RootGroup
	for _, root := range roots {
		var group []models.Pattern
		for _, p := range e.patterns {
			switch {
			case p.Include:
				if isPureWildcard(p.Pattern) {
					continue
				}
				if driveOf(p.Pattern) == root {
					group = append(group, p)
				}
			case p.IsRootAgnostic():
				group = append(group, p)
			case driveOf(p.Pattern) == root:
				group = append(group, p)
			case p.IsWildcard():
				// Drive-less wildcard excludes apply to every root once
				// re-anchored with the universal prefix.
				group = append(group, models.Pattern{
					Include: false,
					Pattern: reanchor(p.Pattern),
					Comment: p.Comment,
				})
			}
		}
		sortRules(group)
		out = append(out, RootGroup{Root: root, Patterns: group})
	}
	return out
}

// sortRules orders a group by the precedence tuple: rules without the
// universal-wildcard prefix first, then more path segments first, then
// excludes before includes, then lexical. The final lexical compare makes
// the order total so equal-key rules cannot silently reorder.
func sortRules(rules []models.Pattern) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if aw, bw := a.IsRootAgnostic(), b.IsRootAgnostic(); aw != bw {
			return !aw
		}
		if an, bn := segmentCount(a.Pattern), segmentCount(b.Pattern); an != bn {
			return an > bn
		}
		if a.Include != b.Include {
			return !a.Include
		}
		return a.Pattern < b.Pattern
	})
}

func segmentCount(glob string) int {
	glob = strings.ReplaceAll(glob, "\\", "/")
	n := 0
	for _, seg := range strings.Split(glob, "/") {
		if seg != "" {
			n++
		}
	}
	return n
}

func isPureWildcard(glob string) bool {
	return glob != "" && strings.Trim(glob, "*/\\") == ""
}

// driveOf extracts the drive-letter root of a windows glob, e.g. "C:".
func driveOf(glob string) string {
	if len(glob) >= 2 && glob[1] == ':' {
		c := glob[0]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
			return strings.ToUpper(glob[:2])
		}
	}
	return ""
}

func reanchor(glob string) string {
	if strings.HasPrefix(glob, "/") || strings.HasPrefix(glob, "\\") {
		return "**" + glob
	}
	return "**/" + glob
}
