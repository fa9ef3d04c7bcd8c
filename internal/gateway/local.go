package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/cardozi/crm-agent/internal/llm"
)

// Local executes agent runs in-process: a headless Chrome instance driven by
// an LLM decision loop. It exists for development and self-hosted setups
// where the cloud vendor is not available.
type Local struct {
	llm       llm.Client
	maxSteps  int
	debugPort int

	mu   sync.Mutex
	runs map[string]*localRun
}

type localRun struct {
	spec    TaskSpec
	cancel  context.CancelFunc
	browser context.Context
}

// NewLocal creates a local gateway on top of an LLM client
func NewLocal(client llm.Client) *Local {
	return &Local{
		llm:       client,
		maxSteps:  15,
		debugPort: 9222,
		runs:      make(map[string]*localRun),
	}
}

// Submit launches a headless browser for the run and installs auth cookies.
// The devtools endpoint doubles as the live observation URL.
func (l *Local) Submit(ctx context.Context, spec TaskSpec) (*Session, error) {
	sessionID := uuid.New().String()

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(),
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("remote-debugging-port", fmt.Sprintf("%d", l.debugPort)),
		)...,
	)

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}

	// Start the browser process now so a broken Chrome install fails the
	// submit, not the await.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	if err := setCookies(browserCtx, spec.AuthCookies); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to set auth cookies: %w", err)
	}

	l.mu.Lock()
	l.runs[sessionID] = &localRun{spec: spec, cancel: cancel, browser: browserCtx}
	l.mu.Unlock()

	return &Session{
		ID:            sessionID,
		LiveStreamURL: fmt.Sprintf("ws://localhost:%d/devtools/browser/%s", l.debugPort, sessionID),
	}, nil
}

// stepDecision is the JSON shape the LLM must answer with at each step
type stepDecision struct {
	Action   string `json:"action"` // navigate, click, type, done, blocked
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	Result   string `json:"result,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// AwaitCompletion runs the decision loop until the agent reports done or
// blocked, or the step budget runs out.
func (l *Local) AwaitCompletion(ctx context.Context, session *Session) (string, error) {
	l.mu.Lock()
	run, ok := l.runs[session.ID]
	l.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown session %s", session.ID)
	}
	defer func() {
		run.cancel()
		l.mu.Lock()
		delete(l.runs, session.ID)
		l.mu.Unlock()
	}()

	for step := 1; step <= l.maxSteps; step++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		pageText, currentURL, err := l.observe(run.browser)
		if err != nil {
			return "", fmt.Errorf("failed to observe page at step %d: %w", step, err)
		}

		decision, err := l.decide(ctx, run.spec.Instructions, currentURL, pageText, step)
		if err != nil {
			return "", fmt.Errorf("agent decision failed at step %d: %w", step, err)
		}

		log.Printf("[local-gateway] session %s step %d: %s", session.ID, step, decision.Action)

		switch decision.Action {
		case "done":
			return decision.Result, nil
		case "blocked":
			// Self-reported blocking condition, surfaced through the output
			// text so the coordinator's marker check picks it up.
			return fmt.Sprintf("BLOCKED: %s", decision.Reason), nil
		case "navigate":
			err = chromedp.Run(run.browser,
				chromedp.Navigate(decision.URL),
				chromedp.WaitReady("body"),
				chromedp.Sleep(2*time.Second),
			)
		case "click":
			err = chromedp.Run(run.browser,
				chromedp.Click(decision.Selector, chromedp.NodeVisible),
				chromedp.Sleep(1*time.Second),
			)
		case "type":
			err = chromedp.Run(run.browser,
				chromedp.SendKeys(decision.Selector, decision.Text, chromedp.NodeVisible),
			)
		default:
			return "", fmt.Errorf("agent returned unknown action %q", decision.Action)
		}
		if err != nil {
			return "", fmt.Errorf("browser action %s failed at step %d: %w", decision.Action, step, err)
		}
	}

	return "", fmt.Errorf("agent did not finish within %d steps", l.maxSteps)
}

// observe captures the current URL and the visible page text
func (l *Local) observe(browserCtx context.Context) (string, string, error) {
	var html, currentURL string
	err := chromedp.Run(browserCtx,
		chromedp.Location(&currentURL),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", "", err
	}
	return extractText(html), currentURL, nil
}

// decide asks the LLM for the next browser action
func (l *Local) decide(ctx context.Context, instructions, currentURL, pageText string, step int) (*stepDecision, error) {
	prompt := fmt.Sprintf(`You are a browser automation agent. Task:

%s

You are at step %d. Current URL: %s
Visible page text (truncated):
%s

Respond with a single JSON object choosing your next action:
{"action":"navigate","url":"..."} to open a URL
{"action":"click","selector":"..."} to click a CSS selector
{"action":"type","selector":"...","text":"..."} to type into a field
{"action":"done","result":"..."} when the task is complete, with the full result text
{"action":"blocked","reason":"..."} if a CAPTCHA, login wall, or other condition requires human intervention`,
		instructions, step, currentURL, pageText)

	raw, err := l.llm.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var decision stepDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return nil, fmt.Errorf("unparseable agent decision: %w", err)
	}
	return &decision, nil
}

// setCookies installs credential cookies before the run starts. Cookies are
// expected under a "cookies" list of {name, value, domain, path} objects,
// matching what the frontend stores out-of-band.
func setCookies(browserCtx context.Context, authCookies map[string]any) error {
	if authCookies == nil {
		return nil
	}
	list, ok := authCookies["cookies"].([]any)
	if !ok {
		return nil
	}

	return chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, item := range list {
			cookie, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, _ := cookie["name"].(string)
			value, _ := cookie["value"].(string)
			domain, _ := cookie["domain"].(string)
			path, _ := cookie["path"].(string)
			if name == "" || domain == "" {
				continue
			}
			if path == "" {
				path = "/"
			}
			if err := network.SetCookie(name, value).WithDomain(domain).WithPath(path).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	}))
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// maxPageText bounds how much page text goes into each decision prompt
const maxPageText = 8000

// extractText strips markup and collapses whitespace so the decision prompt
// carries only visible page content
func extractText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	text := whitespaceRE.ReplaceAllString(doc.Find("body").Text(), " ")
	text = strings.TrimSpace(text)
	if len(text) > maxPageText {
		// Back up to a rune boundary so the cut never leaves a partial
		// UTF-8 sequence in the prompt.
		cut := maxPageText
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}
