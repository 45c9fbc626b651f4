// Package workspace resolves the gateway's user-editable workspace files:
// AGENTS.md binds agent ids to provider/model pairs, SOUL.md and
// TOOLS.md are appended verbatim to the system prompt, and the optional
// SCHEDULER.md overlays the scheduler's own system prompt. Every file is
// read fresh at each turn, with AGENTS.md's parse cached against its mtime
// so a hot loop of chat.send calls does not reparse it every time.
package workspace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AgentDefinition is one AGENTS.md entry: a second-level heading naming the
// agent id, with a "Model: provider/model" line somewhere in its section.
type AgentDefinition struct {
	ID          string
	Provider    string
	Model       string
	Description string
}

// Workspace resolves files under dir.
type Workspace struct {
	dir string

	mu         sync.Mutex
	agentsMod  time.Time
	agentsList []AgentDefinition
}

func New(dir string) *Workspace {
	return &Workspace{dir: dir}
}

func (w *Workspace) path(name string) string { return filepath.Join(w.dir, name) }

// Agents returns every agent AGENTS.md defines, reparsing the file only
// when its mtime has advanced since the last call.
func (w *Workspace) Agents() ([]AgentDefinition, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path("AGENTS.md"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workspace.Workspace.Agents: %w", err)
	}

	if !info.ModTime().After(w.agentsMod) && w.agentsList != nil {
		return w.agentsList, nil
	}

	data, err := os.ReadFile(w.path("AGENTS.md"))
	if err != nil {
		return nil, fmt.Errorf("workspace.Workspace.Agents: %w", err)
	}

	defs := parseAgentsMarkdown(string(data))
	w.agentsMod = info.ModTime()
	w.agentsList = defs
	return defs, nil
}

// Agent returns the single agent definition for id, or nil if AGENTS.md
// does not define it.
func (w *Workspace) Agent(id string) (*AgentDefinition, error) {
	defs, err := w.Agents()
	if err != nil {
		return nil, err
	}
	for i := range defs {
		if defs[i].ID == id {
			return &defs[i], nil
		}
	}
	return nil, nil
}

// SystemPrompt assembles the system prompt for a chat turn: SOUL.md, then
// TOOLS.md, each on its own section, both read fresh from disk.
func (w *Workspace) SystemPrompt() (string, error) {
	return w.concatFiles("SOUL.md", "TOOLS.md")
}

// SchedulerSystemPrompt is SystemPrompt with SCHEDULER.md's content
// appended, when that optional overlay file exists.
func (w *Workspace) SchedulerSystemPrompt() (string, error) {
	return w.concatFiles("SOUL.md", "TOOLS.md", "SCHEDULER.md")
}

func (w *Workspace) concatFiles(names ...string) (string, error) {
	var parts []string
	for _, name := range names {
		data, err := os.ReadFile(w.path(name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("workspace.Workspace.concatFiles(%s): %w", name, err)
		}
		content := strings.TrimSpace(string(data))
		if content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// parseAgentsMarkdown extracts every second-level heading as an agent id,
// scanning its section for a "Model: provider/model" line. Prose around
// and between headings is ignored; a section with no Model line yields a
// definition with empty Provider/Model (callers decide whether that is an
// error).
func parseAgentsMarkdown(content string) []AgentDefinition {
	var defs []AgentDefinition
	var cur *AgentDefinition

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "## ") {
			if cur != nil {
				defs = append(defs, *cur)
			}
			id := strings.TrimSpace(strings.TrimPrefix(trimmed, "##"))
			cur = &AgentDefinition{ID: id}
			continue
		}

		if cur == nil {
			continue
		}

		if provider, model, ok := parseModelLine(trimmed); ok {
			cur.Provider = provider
			cur.Model = model
			continue
		}

		if cur.Description == "" && trimmed != "" {
			cur.Description = trimmed
		}
	}
	if cur != nil {
		defs = append(defs, *cur)
	}
	return defs
}

// parseModelLine recognizes "Model: provider/model" (optionally bolded or
// bulleted), tolerant of surrounding prose formatting.
func parseModelLine(line string) (provider, model string, ok bool) {
	line = strings.TrimPrefix(line, "-")
	line = strings.TrimPrefix(line, "*")
	line = strings.TrimSpace(line)
	line = strings.Trim(line, "*_")

	const prefix = "model:"
	lower := strings.ToLower(line)
	if !strings.HasPrefix(lower, prefix) {
		return "", "", false
	}

	rest := strings.TrimSpace(line[len(prefix):])
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}
