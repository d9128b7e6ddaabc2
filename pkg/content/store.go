// Package content owns the markdown source of truth for the memory engine:
// the aggregate memory file with its tier sections and the date-partitioned
// daily conversation logs. The SQLite index is derived from these files and
// can always be rebuilt from them.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MemoryFileName is the aggregate memory file within the memory dir.
	MemoryFileName = "MEMORY.md"
	// DailyDirName is the subdirectory holding daily conversation logs.
	DailyDirName = "daily"
)

const memoryTemplate = `# Memory

## Core (Permanent)
<!-- Facts that should never be forgotten. -->

## Stable (7 days)
<!-- Things worth keeping for about a week. -->

## Notes
<!-- Short-lived working notes. -->
`

// entryPattern matches a tiered memory bullet with its embedded timestamp.
var entryPattern = regexp.MustCompile(`^- (.*?) <!-- (.+?) -->\s*$`)

// Store reads and writes the markdown memory files.
type Store struct {
	dir        string
	extraRoots []string
	logger     zerolog.Logger
}

// NewStore creates a content store rooted at dir. extraRoots are additional
// read-only directories whose markdown files are exposed for indexing.
func NewStore(dir string, extraRoots []string, logger zerolog.Logger) *Store {
	return &Store{
		dir:        dir,
		extraRoots: extraRoots,
		logger:     logger,
	}
}

// Init idempotently creates the memory directory layout and the templated
// aggregate memory file.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}
	if err := os.MkdirAll(s.DailyDir(), 0755); err != nil {
		return fmt.Errorf("failed to create daily log directory: %w", err)
	}

	path := s.MemoryFilePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(memoryTemplate), 0644); err != nil {
			return fmt.Errorf("failed to create memory file: %w", err)
		}
		s.logger.Info().Str("path", path).Msg("Created memory file from template")
	}

	return nil
}

// Dir returns the memory directory.
func (s *Store) Dir() string {
	return s.dir
}

// MemoryFilePath returns the path of the aggregate memory file.
func (s *Store) MemoryFilePath() string {
	return filepath.Join(s.dir, MemoryFileName)
}

// DailyDir returns the daily log directory.
func (s *Store) DailyDir() string {
	return filepath.Join(s.dir, DailyDirName)
}

// Hash returns the hex-encoded SHA-256 of text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ReadMemory reads the aggregate memory file, returning its text and hash.
func (s *Store) ReadMemory() (string, string, error) {
	data, err := os.ReadFile(s.MemoryFilePath())
	if err != nil {
		return "", "", fmt.Errorf("failed to read memory file: %w", err)
	}
	text := string(data)
	return text, Hash(text), nil
}

// WriteMemory replaces the aggregate memory file, returning the new hash.
func (s *Store) WriteMemory(text string) (string, error) {
	if err := os.WriteFile(s.MemoryFilePath(), []byte(text), 0644); err != nil {
		return "", fmt.Errorf("failed to write memory file: %w", err)
	}
	return Hash(text), nil
}

// AppendMemory inserts a timestamped bullet right after the tier's section
// header, creating the section when it is missing.
func (s *Store) AppendMemory(text string, tier Tier, now time.Time) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("memory text cannot be empty")
	}
	if err := s.Init(); err != nil {
		return err
	}

	body, _, err := s.ReadMemory()
	if err != nil {
		return err
	}

	entry := fmt.Sprintf("- %s <!-- %s -->", strings.TrimSpace(text), now.UTC().Format(time.RFC3339))
	lines := strings.Split(body, "\n")
	header := tier.SectionHeader()

	insertAt := -1
	for i, line := range lines {
		if tierForHeader(line) != tier {
			continue
		}
		// Skip leading comment and blank lines under the header.
		insertAt = i + 1
		for insertAt < len(lines) {
			t := strings.TrimSpace(lines[insertAt])
			if t == "" || strings.HasPrefix(t, "<!--") {
				insertAt++
				continue
			}
			break
		}
		break
	}

	if insertAt == -1 {
		// Section missing: append it at the end.
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
			lines = append(lines, "")
		}
		lines = append(lines, header, entry)
	} else {
		lines = append(lines[:insertAt], append([]string{entry}, lines[insertAt:]...)...)
	}

	_, err = s.WriteMemory(strings.Join(lines, "\n"))
	return err
}

// DeleteMemory removes the first bullet matching text, reporting whether
// anything was removed. An exact normalized match wins; failing that, the
// first bullet containing text as a normalized substring is removed.
func (s *Store) DeleteMemory(text string) (bool, error) {
	body, _, err := s.ReadMemory()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	want := normalize(text)
	if want == "" {
		return false, nil
	}

	lines := strings.Split(body, "\n")
	match := -1
	for i, line := range lines {
		m := entryPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		got := normalize(m[1])
		if got == want {
			match = i
			break
		}
		if match < 0 && strings.Contains(got, want) {
			match = i
		}
	}
	if match < 0 {
		return false, nil
	}

	lines = append(lines[:match], lines[match+1:]...)
	if _, err := s.WriteMemory(strings.Join(lines, "\n")); err != nil {
		return false, err
	}
	return true, nil
}

// normalize lowers case and collapses whitespace for entry matching.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// TTLConfig holds per-tier retention durations. Core has no TTL.
type TTLConfig struct {
	Notes  time.Duration
	Stable time.Duration
}

// ttlFor returns the TTL for a tier, or 0 when the tier never expires.
func (c TTLConfig) ttlFor(tier Tier) time.Duration {
	switch tier {
	case TierNotes:
		return c.Notes
	case TierStable:
		return c.Stable
	default:
		return 0
	}
}

// CleanupExpiredMemories removes tiered entries whose TTL has elapsed,
// measured from each entry's embedded timestamp. Core entries are never
// touched. Returns the number of removed entries.
func (s *Store) CleanupExpiredMemories(ttl TTLConfig, now time.Time) (int, error) {
	body, _, err := s.ReadMemory()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))
	removed := 0
	current := Tier("")

	for _, line := range lines {
		if t := tierForHeader(line); t != "" {
			current = t
			kept = append(kept, line)
			continue
		}

		m := entryPattern.FindStringSubmatch(line)
		if m == nil || current == "" || current == TierCore {
			kept = append(kept, line)
			continue
		}

		maxAge := ttl.ttlFor(current)
		if maxAge <= 0 {
			kept = append(kept, line)
			continue
		}

		savedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(m[2]))
		if err != nil {
			// Malformed timestamp: keep the entry rather than guessing.
			kept = append(kept, line)
			continue
		}

		if now.Sub(savedAt) > maxAge {
			removed++
			continue
		}
		kept = append(kept, line)
	}

	if removed > 0 {
		if _, err := s.WriteMemory(strings.Join(kept, "\n")); err != nil {
			return 0, err
		}
		s.logger.Info().Int("removed", removed).Msg("Swept expired memories")
	}

	return removed, nil
}

// Entry is a parsed memory bullet.
type Entry struct {
	Text    string
	Tier    Tier
	SavedAt time.Time
}

// Entries parses all tiered bullets from the aggregate memory file.
func (s *Store) Entries() ([]Entry, error) {
	body, _, err := s.ReadMemory()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	current := Tier("")
	for _, line := range strings.Split(body, "\n") {
		if t := tierForHeader(line); t != "" {
			current = t
			continue
		}
		m := entryPattern.FindStringSubmatch(line)
		if m == nil || current == "" {
			continue
		}
		savedAt, _ := time.Parse(time.RFC3339, strings.TrimSpace(m[2]))
		entries = append(entries, Entry{Text: m[1], Tier: current, SavedAt: savedAt})
	}
	return entries, nil
}

// EntryTexts parses the bullet texts out of an arbitrary markdown fragment,
// such as a chunk sliced from the aggregate memory file.
func EntryTexts(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if m := entryPattern.FindStringSubmatch(line); m != nil {
			out = append(out, m[1])
		}
	}
	return out
}

// Exchange is a single conversation turn appended to the daily log.
type Exchange struct {
	Timestamp     time.Time
	UserText      string
	ImagePath     string
	AssistantText string
	Metadata      map[string]interface{}
}

// DailyLogPath returns the log path for the given day.
func (s *Store) DailyLogPath(day time.Time) string {
	return filepath.Join(s.DailyDir(), day.Format("2006-01-02")+".md")
}

// EnsureDailyLog lazily creates today's log with its date header.
func (s *Store) EnsureDailyLog(now time.Time) (string, error) {
	if err := os.MkdirAll(s.DailyDir(), 0755); err != nil {
		return "", fmt.Errorf("failed to create daily log directory: %w", err)
	}

	path := s.DailyLogPath(now)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		header := fmt.Sprintf("# %s\n", now.Format("2006-01-02"))
		if err := os.WriteFile(path, []byte(header), 0644); err != nil {
			return "", fmt.Errorf("failed to create daily log: %w", err)
		}
	}
	return path, nil
}

// AppendConversation appends a `## HH:MM` exchange block to today's log.
func (s *Store) AppendConversation(ex Exchange) error {
	path, err := s.EnsureDailyLog(ex.Timestamp)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n## %s\n\n", ex.Timestamp.Format("15:04"))
	fmt.Fprintf(&b, "**User:** %s\n", ex.UserText)
	if ex.ImagePath != "" {
		fmt.Fprintf(&b, "\n![image](%s)\n", ex.ImagePath)
	}
	fmt.Fprintf(&b, "\n**Claude:** %s\n", ex.AssistantText)
	if len(ex.Metadata) > 0 {
		meta, err := json.Marshal(ex.Metadata)
		if err == nil {
			fmt.Fprintf(&b, "\n<!-- metadata: %s -->\n", meta)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open daily log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to append conversation: %w", err)
	}
	return nil
}

// ListMemoryFiles enumerates every file eligible for indexing: the aggregate
// memory file, all daily logs, and markdown files under the configured extra
// roots. Symlinks and dotfiles are skipped.
func (s *Store) ListMemoryFiles() ([]string, error) {
	var files []string

	if _, err := os.Stat(s.MemoryFilePath()); err == nil {
		files = append(files, s.MemoryFilePath())
	}

	roots := append([]string{s.DailyDir()}, s.extraRoots...)
	for _, root := range roots {
		entries, err := collectMarkdown(root)
		if err != nil {
			s.logger.Warn().Err(err).Str("root", root).Msg("Skipping unreadable root")
			continue
		}
		files = append(files, entries...)
	}

	sort.Strings(files[min(1, len(files)):])
	return files, nil
}

func collectMarkdown(root string) ([]string, error) {
	info, err := os.Lstat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 || !info.IsDir() {
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(name), ".md") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
