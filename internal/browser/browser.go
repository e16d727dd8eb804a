// Package browser drives a chat assistant tab in an already running Chrome
// through the DevTools protocol.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/sokinpui/askpatch/internal/ui"
	"github.com/sokinpui/askpatch/model"
)

var (
	ErrNoInput      = errors.New("browser: prompt input not found")
	ErrNoCopyButton = errors.New("browser: copy button not found on the latest answer")
	// ErrCopyIgnored means the copy button was pressed but the page never
	// wrote the clipboard, e.g. because the tab was not focused.
	ErrCopyIgnored = errors.New("browser: copy button did not fill the clipboard")
)

// Clipboard is the system clipboard.
type Clipboard struct {
	Read  func() (string, error)
	Write func(string) error
}

// SystemClipboard reads and writes the desktop clipboard.
var SystemClipboard = Clipboard{Read: clipboard.ReadAll, Write: clipboard.WriteAll}

// Selectors locate the chat UI elements. They belong to one vendor's page and
// go stale when it is redesigned, so they are configuration.
type Selectors struct {
	// Turn matches every assistant turn; the last match is the latest.
	Turn string `yaml:"turn"`
	// Content narrows a turn to its rendered answer. Optional.
	Content string `yaml:"content"`
	Input   string `yaml:"input"`
	Send    string `yaml:"send"`
	Stop    string `yaml:"stop"`
	Spinner string `yaml:"spinner"`
	Copy    string `yaml:"copy"`
	// Busy matches an element present only while the assistant generates.
	Busy string `yaml:"busy"`
}

// DefaultSelectors fit the common ChatGPT-style layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Turn:    `[data-message-author-role="assistant"]`,
		Content: `.markdown`,
		Input:   `#prompt-textarea`,
		Send:    `button[data-testid="send-button"]`,
		Stop:    `button[data-testid="stop-button"]`,
		Spinner: `.result-streaming`,
		Copy:    `button[data-testid="copy-turn-action-button"]`,
		Busy:    `[aria-busy="true"]`,
	}
}

// Config describes how to reach the assistant tab.
type Config struct {
	// DebugURL is the DevTools endpoint of a running browser,
	// e.g. ws://127.0.0.1:9222/devtools/browser/<id> or http://127.0.0.1:9222.
	DebugURL string `yaml:"debug_url"`
	// URL is opened when no existing tab's address contains URLMatch.
	URL      string `yaml:"url"`
	URLMatch string `yaml:"url_match"`
	// ActionTimeout bounds every single DevTools round trip.
	ActionTimeout time.Duration `yaml:"action_timeout"`
	// CopySettle is how long to wait for the page to fill the clipboard.
	CopySettle time.Duration `yaml:"copy_settle"`
	Selectors  Selectors     `yaml:"selectors"`
}

// Page is an attached assistant tab.
type Page struct {
	ctx     context.Context
	cancels []context.CancelFunc
	cfg     Config
	clip    Clipboard
}

// Attach connects to the browser at cfg.DebugURL and picks the assistant tab,
// opening cfg.URL in a new tab when none matches.
func Attach(ctx context.Context, cfg Config) (*Page, error) {
	if cfg.DebugURL == "" {
		return nil, errors.New("browser: no DevTools URL configured")
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 15 * time.Second
	}
	if cfg.CopySettle <= 0 {
		cfg.CopySettle = 300 * time.Millisecond
	}
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}

	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, cfg.DebugURL)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	// Cancelling the allocator first drops the connection before a tab
	// context is cancelled; a cancelled tab context closes its tab.
	p := &Page{cfg: cfg, cancels: []context.CancelFunc{cancelAlloc, cancelBrowser}, clip: SystemClipboard}

	if err := chromedp.Run(browserCtx); err != nil {
		p.Close()
		return nil, fmt.Errorf("connecting to %s: %w", cfg.DebugURL, err)
	}

	if cfg.URLMatch != "" {
		targets, err := chromedp.Targets(browserCtx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("listing tabs: %w", err)
		}
		for _, t := range targets {
			if t.Type == "page" && strings.Contains(t.URL, cfg.URLMatch) {
				tabCtx, cancelTab := chromedp.NewContext(browserCtx, chromedp.WithTargetID(t.TargetID))
				p.ctx = tabCtx
				p.cancels = append(p.cancels, cancelTab)
				p.closeScratchTab(browserCtx)
				ui.Info("Attached to %s", t.URL)
				return p, nil
			}
		}
	}

	if cfg.URL == "" {
		p.Close()
		return nil, fmt.Errorf("browser: no tab matches %q and no URL to open", cfg.URLMatch)
	}
	p.ctx = browserCtx
	navCtx, cancel := context.WithTimeout(browserCtx, 4*cfg.ActionTimeout)
	defer cancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(cfg.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		p.Close()
		return nil, fmt.Errorf("navigate to %s: %w", cfg.URL, err)
	}
	ui.Info("Opened %s", cfg.URL)
	return p, nil
}

// closeScratchTab closes the blank tab chromedp opened to reach the browser.
func (p *Page) closeScratchTab(browserCtx context.Context) {
	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Target == nil {
		return
	}
	scratch := c.Target.TargetID
	ctx, cancel := context.WithTimeout(p.ctx, 3*time.Second)
	defer cancel()
	_ = chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.CloseTarget(scratch).Do(ctx)
	}))
}

// Close disconnects from the browser and leaves the chat tab open.
func (p *Page) Close() {
	for _, cancel := range p.cancels {
		cancel()
	}
}

// op derives a bounded DevTools context that also ends with ctx.
func (p *Page) op(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(p.ctx, p.cfg.ActionTimeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// Snapshot reads the latest assistant turn. A missing turn is an empty turn.
func (p *Page) Snapshot(ctx context.Context, scope string) (model.ConversationTurn, error) {
	opCtx, cancel := p.op(ctx)
	defer cancel()

	var raw string
	if err := chromedp.Run(opCtx, chromedp.Evaluate(snapshotScript(scope, p.cfg.Selectors), &raw)); err != nil {
		return model.ConversationTurn{}, fmt.Errorf("evaluating snapshot: %w", err)
	}
	return decodeSnapshot(raw)
}

// Submit types prompt into the input and presses send.
func (p *Page) Submit(ctx context.Context, prompt string) error {
	opCtx, cancel := p.op(ctx)
	defer cancel()

	sel := p.cfg.Selectors
	var filled bool
	if err := chromedp.Run(opCtx,
		chromedp.WaitReady(sel.Input, chromedp.ByQuery),
		chromedp.Focus(sel.Input, chromedp.ByQuery),
		chromedp.Evaluate(inputScript(sel.Input, prompt), &filled),
	); err != nil {
		return fmt.Errorf("filling prompt: %w", err)
	}
	if !filled {
		return ErrNoInput
	}
	if err := chromedp.Run(opCtx,
		chromedp.WaitEnabled(sel.Send, chromedp.ByQuery),
		chromedp.Click(sel.Send, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("clicking send: %w", err)
	}
	return nil
}

// CopyLatest presses the copy button of the latest answer and reads the
// system clipboard, which holds the answer's original markdown.
func (p *Page) CopyLatest(ctx context.Context, scope string) (string, error) {
	opCtx, cancel := p.op(ctx)
	defer cancel()

	return copyThrough(ctx, p.clip, p.cfg.CopySettle, func() (bool, error) {
		var clicked bool
		err := chromedp.Run(opCtx, chromedp.Evaluate(copyScript(scope, p.cfg.Selectors), &clicked))
		return clicked, err
	})
}

// copyThrough marks the clipboard, runs click and reads the clipboard back
// after settle. A clipboard still holding the mark was never written.
func copyThrough(ctx context.Context, clip Clipboard, settle time.Duration, click func() (bool, error)) (string, error) {
	mark := fmt.Sprintf("askpatch-copy-%d", time.Now().UnixNano())
	if err := clip.Write(mark); err != nil {
		return "", fmt.Errorf("marking clipboard: %w", err)
	}

	clicked, err := click()
	if err != nil {
		return "", fmt.Errorf("clicking copy: %w", err)
	}
	if !clicked {
		return "", ErrNoCopyButton
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(settle):
	}
	text, err := clip.Read()
	if err != nil {
		return "", fmt.Errorf("reading clipboard: %w", err)
	}
	if text == mark {
		return "", ErrCopyIgnored
	}
	return text, nil
}

// snapshotJSON is the shape returned by snapshotScript.
type snapshotJSON struct {
	Text           string `json:"text"`
	Markup         string `json:"markup"`
	Busy           bool   `json:"busy"`
	StopVisible    bool   `json:"stopVisible"`
	SendVisible    bool   `json:"sendVisible"`
	SpinnerVisible bool   `json:"spinnerVisible"`
}

func decodeSnapshot(raw string) (model.ConversationTurn, error) {
	if strings.TrimSpace(raw) == "" {
		return model.ConversationTurn{}, nil
	}
	var s snapshotJSON
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return model.ConversationTurn{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return model.ConversationTurn{
		Text:   s.Text,
		Markup: s.Markup,
		Signals: model.Signals{
			Busy:           s.Busy,
			StopVisible:    s.StopVisible,
			SendVisible:    s.SendVisible,
			SpinnerVisible: s.SpinnerVisible,
		},
	}, nil
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

const scriptHelpers = `
	var vis = function(el) {
		if (!el) return false;
		var r = el.getBoundingClientRect();
		var st = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
	};
	var q = function(root, sel) { return sel ? root.querySelector(sel) : null; };
	var latest = function(root, sel) {
		if (!sel) return null;
		var all = root.querySelectorAll(sel);
		return all.length ? all[all.length - 1] : null;
	};
`

func snapshotScript(scope string, sel Selectors) string {
	return fmt.Sprintf(`(function() {
	%s
	var root = %s ? (document.querySelector(%s) || document) : document;
	var turn = latest(root, %s);
	var body = turn ? (q(turn, %s) || turn) : null;
	var stop = q(document, %s);
	var send = q(document, %s);
	return JSON.stringify({
		text: body ? (body.innerText || '') : '',
		markup: body ? body.innerHTML : '',
		busy: !!(q(root, %s)),
		stopVisible: vis(stop),
		sendVisible: vis(send),
		spinnerVisible: vis(q(root, %s))
	});
})()`,
		scriptHelpers,
		jsString(scope), jsString(scope),
		jsString(sel.Turn), jsString(sel.Content),
		jsString(sel.Stop), jsString(sel.Send),
		jsString(sel.Busy), jsString(sel.Spinner),
	)
}

func inputScript(inputSel, prompt string) string {
	return fmt.Sprintf(`(function() {
	var el = document.querySelector(%s);
	if (!el) return false;
	var text = %s;
	el.focus();
	if (el.tagName === 'TEXTAREA' || el.tagName === 'INPUT') {
		var setter = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(el), 'value').set;
		setter.call(el, text);
		el.dispatchEvent(new Event('input', {bubbles: true}));
		return true;
	}
	document.execCommand('selectAll', false, null);
	document.execCommand('insertText', false, text);
	el.dispatchEvent(new Event('input', {bubbles: true}));
	return (el.innerText || '').length > 0;
})()`, jsString(inputSel), jsString(prompt))
}

func copyScript(scope string, sel Selectors) string {
	return fmt.Sprintf(`(function() {
	%s
	var root = %s ? (document.querySelector(%s) || document) : document;
	var turn = latest(root, %s);
	if (!turn) return false;
	var scopeEl = turn.parentElement || turn;
	var btn = latest(turn, %s) || latest(scopeEl, %s);
	if (!btn) return false;
	btn.click();
	return true;
})()`,
		scriptHelpers,
		jsString(scope), jsString(scope),
		jsString(sel.Turn), jsString(sel.Copy), jsString(sel.Copy),
	)
}
