package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/aira-gateway/gatewayd/internal/domain"
)

const (
	browserSessionTTL    = 30 * time.Minute
	browserReapPeriod    = 5 * time.Minute
	browserActionTimeout = 60 * time.Second

	// browserNavigateCommitTimeout bounds waiting for the navigation to
	// commit; browserNavigateDOMTimeout then bounds a best-effort wait for
	// DOM-content-loaded on top of that. Neither timing out is fatal.
	browserNavigateCommitTimeout = 20 * time.Second
	browserNavigateDOMTimeout    = 3 * time.Second

	// browserExtractMaxChars caps extract's returned text; content beyond
	// this is dropped and replaced with a truncation marker.
	browserExtractMaxChars = 10000
)

// blockedURLSchemes are refused by navigate outright: local files, browser
// internals, and script URIs that could act on the current page without
// ever going out over the network.
var blockedURLSchemes = []string{"file:", "chrome:", "chrome-extension:", "about:", "javascript:"}

// blockedScheme reports whether rawURL starts with one of blockedURLSchemes,
// case-insensitively.
func blockedScheme(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	for _, scheme := range blockedURLSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// browserManager owns a single shared headless Chrome process and
// multiplexes gateway sessions onto one chromedp tab each, keyed by session
// key so concurrent conversations never see each other's page state.
type browserManager struct {
	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabs        map[domain.SessionKey]*browserTab
	stopReaper  context.CancelFunc
}

type browserTab struct {
	ctx      context.Context
	cancel   context.CancelFunc
	lastUsed time.Time
}

func newBrowserManager() *browserManager {
	m := &browserManager{tabs: make(map[domain.SessionKey]*browserTab)}
	reaperCtx, cancel := context.WithCancel(context.Background())
	m.stopReaper = cancel
	go m.reapLoop(reaperCtx)
	return m
}

func (m *browserManager) ensureAllocator() {
	if m.allocCtx != nil && m.allocCtx.Err() == nil {
		return
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
}

func (m *browserManager) tab(key domain.SessionKey) (*browserTab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tabs[key]; ok && t.ctx.Err() == nil {
		t.lastUsed = time.Now()
		return t, nil
	}

	m.ensureAllocator()
	tabCtx, cancel := chromedp.NewContext(m.allocCtx)
	if err := chromedp.Run(tabCtx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		return nil, fmt.Errorf("tools.browserManager: open tab: %w", err)
	}

	t := &browserTab{ctx: tabCtx, cancel: cancel, lastUsed: time.Now()}
	m.tabs[key] = t
	return t, nil
}

func (m *browserManager) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(browserReapPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapExpired()
		}
	}
}

func (m *browserManager) reapExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, t := range m.tabs {
		if t.ctx.Err() != nil || time.Since(t.lastUsed) >= browserSessionTTL {
			t.cancel()
			delete(m.tabs, key)
		}
	}
}

func (m *browserManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopReaper != nil {
		m.stopReaper()
	}
	for key, t := range m.tabs {
		t.cancel()
		delete(m.tabs, key)
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
}

// BrowserTool drives a per-session headless browser tab through a small
// action union: navigate, click, type, screenshot, extract.
type BrowserTool struct {
	manager *browserManager
}

func NewBrowserTool() *BrowserTool {
	return &BrowserTool{manager: newBrowserManager()}
}

func (t *BrowserTool) Name() string { return "browser" }

func (t *BrowserTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name: "browser",
		Description: "Controls a headless browser tab scoped to this session. " +
			"action is one of navigate, click, type, screenshot, extract. " +
			"navigate refuses file:, chrome:, chrome-extension:, about:, and javascript: URLs.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action":   map[string]any{"type": "string", "enum": []string{"navigate", "click", "type", "screenshot", "extract"}},
				"url":      map[string]any{"type": "string", "description": "required for navigate"},
				"selector": map[string]any{"type": "string", "description": "required for click and type; optional for extract, default the document body"},
				"text":     map[string]any{"type": "string", "description": "required for type"},
				"format":   map[string]any{"type": "string", "enum": []string{"text", "markdown"}, "description": "for extract, default text (visible text); markdown renders the selected element as Markdown instead"},
			},
			"required": []string{"action"},
		},
	}
}

func (t *BrowserTool) RequiresApproval() bool { return true }

func (t *BrowserTool) Close() { t.manager.Close() }

func (t *BrowserTool) Execute(ctx context.Context, tc domain.ToolContext, input map[string]any) (domain.ToolResult, error) {
	action, _ := input["action"].(string)
	if action == "" {
		return domain.ToolResult{}, fmt.Errorf("tools.BrowserTool: missing required field %q", "action")
	}

	if action == "navigate" {
		url, _ := input["url"].(string)
		if url == "" {
			return domain.ToolResult{}, fmt.Errorf("tools.BrowserTool: navigate requires %q", "url")
		}
		if blockedScheme(url) {
			return domain.ToolResult{Output: "Blocked: refusing to navigate to " + url}, nil
		}
	}

	tab, err := t.manager.tab(tc.SessionKey)
	if err != nil {
		return domain.ToolResult{}, err
	}

	runCtx, cancel := context.WithTimeout(tab.ctx, browserActionTimeout)
	defer cancel()
	done := ctx.Done()
	if done != nil {
		go func() {
			select {
			case <-done:
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	if tc.ReportProgress != nil {
		tc.ReportProgress(fmt.Sprintf("browser: %s", action))
	}

	switch action {
	case "navigate":
		// url was already validated (non-empty, allowed scheme) above,
		// before the tab was acquired.
		url, _ := input["url"].(string)

		commitCtx, commitCancel := context.WithTimeout(runCtx, browserNavigateCommitTimeout)
		err := chromedp.Run(commitCtx, chromedp.Navigate(url))
		commitCancel()
		if err != nil {
			return domain.ToolResult{}, fmt.Errorf("tools.BrowserTool: navigate: %w", err)
		}

		domCtx, domCancel := context.WithTimeout(runCtx, browserNavigateDOMTimeout)
		domErr := chromedp.Run(domCtx, chromedp.WaitReady("body", chromedp.ByQuery))
		domCancel()
		if domErr != nil && tc.ReportProgress != nil {
			tc.ReportProgress(fmt.Sprintf("browser: navigate: dom-content-loaded wait timed out, continuing against %s", url))
		}
		return domain.ToolResult{Output: "navigated to " + url}, nil

	case "click":
		selector, _ := input["selector"].(string)
		if selector == "" {
			return domain.ToolResult{}, fmt.Errorf("tools.BrowserTool: click requires %q", "selector")
		}
		if err := chromedp.Run(runCtx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
			return domain.ToolResult{}, fmt.Errorf("tools.BrowserTool: click: %w", err)
		}
		return domain.ToolResult{Output: "clicked " + selector}, nil

	case "type":
		selector, _ := input["selector"].(string)
		text, _ := input["text"].(string)
		if selector == "" || text == "" {
			return domain.ToolResult{}, fmt.Errorf("tools.BrowserTool: type requires %q and %q", "selector", "text")
		}
		var fieldType string
		var hasType bool
		if err := chromedp.Run(runCtx, chromedp.AttributeValue(selector, "type", &fieldType, &hasType, chromedp.ByQuery)); err != nil {
			return domain.ToolResult{}, fmt.Errorf("tools.BrowserTool: type: %w", err)
		}
		if hasType && strings.EqualFold(fieldType, "password") {
			return domain.ToolResult{Output: "Refused: " + selector + " is a password field"}, nil
		}
		if err := chromedp.Run(runCtx, chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
			return domain.ToolResult{}, fmt.Errorf("tools.BrowserTool: type: %w", err)
		}
		return domain.ToolResult{Output: "typed into " + selector}, nil

	case "screenshot":
		var png []byte
		if err := chromedp.Run(runCtx, chromedp.FullScreenshot(&png, 90)); err != nil {
			return domain.ToolResult{}, fmt.Errorf("tools.BrowserTool: screenshot: %w", err)
		}
		return domain.ToolResult{
			Output: "captured screenshot",
			Attachments: []domain.Attachment{{
				Type:     "image",
				MimeType: "image/png",
				Base64:   base64.StdEncoding.EncodeToString(png),
			}},
		}, nil

	case "extract":
		selector, _ := input["selector"].(string)
		target := "body"
		if selector != "" {
			target = selector
		}
		var html string
		if err := chromedp.Run(runCtx, chromedp.OuterHTML(target, &html, chromedp.ByQuery)); err != nil {
			return domain.ToolResult{}, fmt.Errorf("tools.BrowserTool: extract: %w", err)
		}
		format, _ := input["format"].(string)
		text, err := extractPageContent(html, format)
		if err != nil {
			return domain.ToolResult{}, fmt.Errorf("tools.BrowserTool: extract: %w", err)
		}
		runes := []rune(text)
		truncated := len(runes) > browserExtractMaxChars
		if truncated {
			text = string(runes[:browserExtractMaxChars]) + "\n\n[... truncated at 10000 characters ...]"
		}
		return domain.ToolResult{Output: text, Truncated: truncated}, nil

	default:
		return domain.ToolResult{}, fmt.Errorf("tools.BrowserTool: unknown action %q", action)
	}
}

// extractPageContent returns the visible text of an element's HTML (via
// goquery's text extraction), dropping script and style content first. With
// format "markdown" it instead renders the cleaned HTML as Markdown (via
// html-to-markdown); plain visible text is the default.
func extractPageContent(html, format string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	if format != "markdown" {
		return strings.TrimSpace(doc.Text()), nil
	}

	cleaned, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize cleaned html: %w", err)
	}
	markdown, err := htmltomarkdown.ConvertString(cleaned)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return strings.TrimSpace(markdown), nil
}
