package contextload

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// maxLine bounds a single transcript record; tool output can be large.
const maxLine = 16 << 20

var ideTags = regexp.MustCompile(`<(ide_opened_file|ide_selection|command-message|command-name|command-args)>[^<]*</(ide_opened_file|ide_selection|command-message|command-name|command-args)>\n?`)

// StripIDEMetadata removes editor and slash-command tags from message text.
func StripIDEMetadata(text string) string {
	return strings.TrimSpace(ideTags.ReplaceAllString(text, ""))
}

// ProjectDirName mangles an absolute path into the directory name used under
// ~/.claude/projects: every character outside [A-Za-z0-9] becomes "-".
func ProjectDirName(path string) string {
	var b strings.Builder
	for _, r := range path {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// FindTranscript returns the most recently modified transcript for cwd or its
// nearest ancestor that has a project directory.
func (l *Loader) FindTranscript(cwd string) string {
	if cwd == "" || l.Home == "" {
		return ""
	}
	dir, err := filepath.Abs(cwd)
	if err != nil {
		return ""
	}
	projects := filepath.Join(l.Home, ".claude", "projects")
	for {
		if latest := newestFile(filepath.Join(projects, ProjectDirName(dir)), "*.jsonl"); latest != "" {
			return latest
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// newestFile returns the most recently modified file in dir matching pattern.
func newestFile(dir, pattern string) string {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return ""
	}
	var (
		best    string
		bestMod int64
	)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if mod := info.ModTime().UnixNano(); best == "" || mod > bestMod {
			best, bestMod = m, mod
		}
	}
	return best
}

// RecentDialogue renders the last rounds of the conversation in path. When
// path is empty the transcript is discovered from cwd.
func (l *Loader) RecentDialogue(path, cwd string) string {
	if path == "" {
		path = l.FindTranscript(cwd)
	}
	if path == "" {
		return ""
	}
	rounds, err := ReadRounds(path)
	if err != nil {
		l.logger().Debug("transcript unreadable", "path", path, "error", err)
		return ""
	}
	if n := l.rounds(); len(rounds) > n {
		rounds = rounds[len(rounds)-n:]
	}
	return FormatRounds(rounds)
}

// Round is one user message and the assistant's last reply to it.
type Round struct {
	User      string
	Assistant string
}

type transcriptRecord struct {
	Type    string `json:"type"`
	Message struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentItem struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Thinking string          `json:"thinking"`
	Content  json.RawMessage `json:"content"`
}

// ReadRounds parses a transcript JSONL file into conversation rounds.
// Malformed lines are skipped.
func ReadRounds(path string) ([]Round, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		rounds  []Round
		current *Round
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		var rec transcriptRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Type {
		case "user":
			if current != nil {
				rounds = append(rounds, *current)
			}
			current = &Round{User: messageText(rec.Message.Content)}
		case "assistant":
			if current == nil {
				continue
			}
			if text := messageText(rec.Message.Content); text != "" {
				current.Assistant = text
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	if current != nil {
		rounds = append(rounds, *current)
	}
	return rounds, nil
}

// messageText flattens a message's content, which is either a string or a
// list of typed items.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return StripIDEMetadata(s)
	}
	var items []contentItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return ""
	}
	var parts []string
	for _, it := range items {
		switch it.Type {
		case "text":
			if t := StripIDEMetadata(it.Text); t != "" {
				parts = append(parts, t)
			}
		case "thinking":
			if it.Thinking != "" {
				parts = append(parts, it.Thinking)
			}
		case "tool_result":
			if t := toolResultText(it.Content); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []contentItem
	if err := json.Unmarshal(raw, &items); err == nil {
		var parts []string
		for _, it := range items {
			if it.Text != "" {
				parts = append(parts, it.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

// FormatRounds renders rounds as Markdown, skipping rounds with no user text.
func FormatRounds(rounds []Round) string {
	var parts []string
	for _, r := range rounds {
		if r.User == "" {
			continue
		}
		reply := r.Assistant
		if reply == "" {
			reply = "(no reply)"
		}
		parts = append(parts, fmt.Sprintf("## Round %d\n\n### User\n%s\n\n### Assistant\n%s", len(parts)+1, r.User, reply))
	}
	return strings.Join(parts, "\n\n")
}
