package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/emulation"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/input"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	adapter "webpen/internal/adapter/cdp"
	ilog "webpen/internal/log"
	"webpen/pkg/domain"
	"webpen/pkg/traffic"
)

const (
	attachTimeout  = 15 * time.Second
	attachPoll     = 200 * time.Millisecond
	commandTimeout = 20 * time.Second
	eventBuffer    = 128
)

var defaultBinaries = []string{
	"google-chrome",
	"chromium",
	"chromium-browser",
	"/usr/bin/google-chrome",
	"/usr/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// Chrome drives a locally launched Chrome through the DevTools protocol.
// Protocol commands are serialized: one in-flight command at a time.
type Chrome struct {
	cfg domain.SessionConfig

	cmdMu   sync.Mutex // serializes protocol commands
	proc    *exec.Cmd
	conn    *rpcc.Conn
	client  *cdp.Client
	ctx     context.Context
	cancel  context.CancelFunc
	dataDir string

	stopping atomic.Bool
	crashed  chan error

	fetchMu     sync.Mutex
	fetchCancel context.CancelFunc
	fetchCh     chan PausedRequest
	netCh       chan NetworkEvent

	consoleMu  sync.Mutex
	consoleLog []domain.ConsoleEntry
}

// NewChrome returns an unstarted collaborator for the given launch
// configuration.
func NewChrome(cfg domain.SessionConfig) Browser {
	return &Chrome{
		cfg:     cfg,
		crashed: make(chan error, 1),
		fetchCh: make(chan PausedRequest, eventBuffer),
		netCh:   make(chan NetworkEvent, eventBuffer),
	}
}

func (c *Chrome) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(context.Background())

	port := c.cfg.DevToolsPort
	if port == 0 {
		port = 9222
	}

	dataDir, err := os.MkdirTemp("", "webpen-profile-*")
	if err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	c.dataDir = dataDir

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--user-data-dir=" + dataDir,
		"--no-first-run",
		"--no-default-browser-check",
		"about:blank",
	}
	if c.cfg.Headless {
		args = append(args, "--headless=new")
	}
	if c.cfg.Proxy != "" {
		args = append(args, "--proxy-server="+c.cfg.Proxy)
	}
	if c.cfg.UserAgent != "" {
		args = append(args, "--user-agent="+c.cfg.UserAgent)
	}
	if c.cfg.Incognito {
		args = append(args, "--incognito")
	}
	if c.cfg.WindowWidth > 0 && c.cfg.WindowHeight > 0 {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", c.cfg.WindowWidth, c.cfg.WindowHeight))
	}

	binary, err := findBinary(c.cfg.BinaryPath)
	if err != nil {
		return err
	}
	proc := exec.Command(binary, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("start browser %s: %w", binary, err)
	}
	c.proc = proc

	go func() {
		err := proc.Wait()
		if c.stopping.Load() {
			return
		}
		if err == nil {
			err = fmt.Errorf("browser process exited")
		}
		select {
		case c.crashed <- err:
		default:
		}
	}()

	if err := c.attach(ctx, port); err != nil {
		c.kill()
		return err
	}

	if err := c.do(ctx, func(ctx context.Context) error {
		if err := c.client.Page.Enable(ctx); err != nil {
			return err
		}
		return c.client.Runtime.Enable(ctx)
	}); err != nil {
		c.kill()
		return fmt.Errorf("enable page domains: %w", err)
	}

	go c.consumeConsole()
	ilog.L().Info().Str("binary", binary).Int("port", port).Msg("browser started")
	return nil
}

// attach polls the devtools endpoint until the page target is dialable.
func (c *Chrome) attach(ctx context.Context, port int) error {
	dt := devtool.New(fmt.Sprintf("http://127.0.0.1:%d", port))
	deadline := time.Now().Add(attachTimeout)
	for {
		target, err := dt.Get(ctx, devtool.Page)
		if err == nil {
			conn, dialErr := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
			if dialErr == nil {
				c.conn = conn
				c.client = cdp.NewClient(conn)
				return nil
			}
			err = dialErr
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("attach devtools: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(attachPoll):
		}
	}
}

func (c *Chrome) Stop(ctx context.Context) error {
	c.stopping.Store(true)
	c.fetchMu.Lock()
	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}
	c.fetchMu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.kill()
	if c.dataDir != "" {
		os.RemoveAll(c.dataDir)
	}
	return nil
}

func (c *Chrome) kill() {
	if c.proc != nil && c.proc.Process != nil {
		c.proc.Process.Kill()
	}
}

func (c *Chrome) Crashed() <-chan error { return c.crashed }

// do runs one protocol command under the command lock with a bounded
// deadline.
func (c *Chrome) do(ctx context.Context, fn func(ctx context.Context) error) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return fn(cmdCtx)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	loadTimeout := time.Duration(c.cfg.PageLoadTimeoutMS) * time.Millisecond
	if loadTimeout <= 0 {
		loadTimeout = 30 * time.Second
	}

	loaded, err := c.client.Page.LoadEventFired(c.ctx)
	if err != nil {
		return fmt.Errorf("subscribe load event: %w", err)
	}
	defer loaded.Close()

	if err := c.do(ctx, func(ctx context.Context) error {
		reply, err := c.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
		if err != nil {
			return err
		}
		if reply.ErrorText != nil && *reply.ErrorText != "" {
			return fmt.Errorf("navigation failed: %s", *reply.ErrorText)
		}
		return nil
	}); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := loaded.Recv()
		done <- err
	}()
	select {
	case <-waitCtx.Done():
		return fmt.Errorf("%w: page load after %s", domain.ErrTimeout, loadTimeout)
	case err := <-done:
		if err != nil {
			return fmt.Errorf("await page load: %w", err)
		}
		return nil
	}
}

func (c *Chrome) Back(ctx context.Context) error    { return c.stepHistory(ctx, -1) }
func (c *Chrome) Forward(ctx context.Context) error { return c.stepHistory(ctx, +1) }

func (c *Chrome) stepHistory(ctx context.Context, delta int) error {
	return c.do(ctx, func(ctx context.Context) error {
		history, err := c.client.Page.GetNavigationHistory(ctx)
		if err != nil {
			return err
		}
		idx := history.CurrentIndex + delta
		if idx < 0 || idx >= len(history.Entries) {
			return fmt.Errorf("no history entry at offset %+d", delta)
		}
		return c.client.Page.NavigateToHistoryEntry(ctx,
			page.NewNavigateToHistoryEntryArgs(history.Entries[idx].ID))
	})
}

func (c *Chrome) Reload(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.client.Page.Reload(ctx, nil)
	})
}

func (c *Chrome) PageInfo(ctx context.Context) (domain.PageInfo, error) {
	raw, err := c.Evaluate(ctx, `({url: window.location.href, title: document.title})`)
	if err != nil {
		return domain.PageInfo{}, err
	}
	var info domain.PageInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return domain.PageInfo{}, fmt.Errorf("decode page info: %w", err)
	}
	return info, nil
}

func (c *Chrome) Evaluate(ctx context.Context, expr string) ([]byte, error) {
	var value []byte
	err := c.do(ctx, func(ctx context.Context) error {
		args := runtime.NewEvaluateArgs(expr).
			SetReturnByValue(true).
			SetAwaitPromise(true)
		reply, err := c.client.Runtime.Evaluate(ctx, args)
		if err != nil {
			return err
		}
		if reply.ExceptionDetails != nil {
			return fmt.Errorf("script exception: %s", exceptionText(reply.ExceptionDetails))
		}
		value = reply.Result.Value
		return nil
	})
	return value, err
}

func exceptionText(ed *runtime.ExceptionDetails) string {
	if ed.Exception != nil && ed.Exception.Description != nil {
		return *ed.Exception.Description
	}
	return ed.Text
}

func (c *Chrome) InsertText(ctx context.Context, text string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.client.Input.InsertText(ctx, input.NewInsertTextArgs(text))
	})
}

func (c *Chrome) consumeConsole() {
	stream, err := c.client.Runtime.ConsoleAPICalled(c.ctx)
	if err != nil {
		return
	}
	defer stream.Close()
	for {
		ev, err := stream.Recv()
		if err != nil {
			return
		}
		entry := domain.ConsoleEntry{
			Level:     ev.Type,
			Text:      consoleText(ev.Args),
			Timestamp: time.Now().UnixMilli(),
		}
		c.consoleMu.Lock()
		c.consoleLog = append(c.consoleLog, entry)
		if len(c.consoleLog) > 1000 {
			c.consoleLog = c.consoleLog[len(c.consoleLog)-1000:]
		}
		c.consoleMu.Unlock()
	}
}

func consoleText(args []runtime.RemoteObject) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		switch {
		case len(a.Value) > 0:
			out += string(a.Value)
		case a.Description != nil:
			out += *a.Description
		}
	}
	return out
}

func (c *Chrome) ConsoleLogs(context.Context) ([]domain.ConsoleEntry, error) {
	c.consoleMu.Lock()
	defer c.consoleMu.Unlock()
	out := make([]domain.ConsoleEntry, len(c.consoleLog))
	copy(out, c.consoleLog)
	return out, nil
}

func (c *Chrome) Cookies(ctx context.Context) ([]domain.Cookie, error) {
	var out []domain.Cookie
	err := c.do(ctx, func(ctx context.Context) error {
		reply, err := c.client.Network.GetCookies(ctx, network.NewGetCookiesArgs())
		if err != nil {
			return err
		}
		for _, ck := range reply.Cookies {
			out = append(out, adapter.ToNeutralCookie(ck))
		}
		return nil
	})
	return out, err
}

func (c *Chrome) SetCookie(ctx context.Context, ck domain.Cookie) error {
	return c.do(ctx, func(ctx context.Context) error {
		args := network.NewSetCookieArgs(ck.Name, ck.Value)
		if ck.Domain != "" {
			args = args.SetDomain(ck.Domain)
		}
		if ck.Path != "" {
			args = args.SetPath(ck.Path)
		}
		if ck.Expires > 0 {
			args = args.SetExpires(network.TimeSinceEpoch(ck.Expires))
		}
		if ck.Secure {
			args = args.SetSecure(true)
		}
		if ck.HTTPOnly {
			args = args.SetHTTPOnly(true)
		}
		if ck.SameSite != "" {
			args = args.SetSameSite(network.CookieSameSite(ck.SameSite))
		}
		_, err := c.client.Network.SetCookie(ctx, args)
		return err
	})
}

func (c *Chrome) DeleteCookie(ctx context.Context, name string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.client.Network.DeleteCookies(ctx, network.NewDeleteCookiesArgs(name))
	})
}

func (c *Chrome) ClearCookies(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.client.Network.ClearBrowserCookies(ctx)
	})
}

func (c *Chrome) Screenshot(ctx context.Context, clip *Clip) ([]byte, error) {
	var data []byte
	err := c.do(ctx, func(ctx context.Context) error {
		args := page.NewCaptureScreenshotArgs().SetFormat("png")
		if clip != nil {
			args = args.SetClip(page.Viewport{
				X:      clip.X,
				Y:      clip.Y,
				Width:  clip.Width,
				Height: clip.Height,
				Scale:  1,
			})
		}
		reply, err := c.client.Page.CaptureScreenshot(ctx, args)
		if err != nil {
			return err
		}
		data = reply.Data
		return nil
	})
	return data, err
}

func (c *Chrome) SetViewport(ctx context.Context, width, height int) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.client.Emulation.SetDeviceMetricsOverride(ctx,
			emulation.NewSetDeviceMetricsOverrideArgs(width, height, 1, false))
	})
}

func (c *Chrome) Metrics(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64)
	err := c.do(ctx, func(ctx context.Context) error {
		if err := c.client.Performance.Enable(ctx, nil); err != nil {
			return err
		}
		reply, err := c.client.Performance.GetMetrics(ctx)
		if err != nil {
			return err
		}
		for _, m := range reply.Metrics {
			out[m.Name] = m.Value
		}
		return nil
	})
	return out, err
}

func (c *Chrome) EnableNetwork(ctx context.Context) error {
	if err := c.do(ctx, func(ctx context.Context) error {
		return c.client.Network.Enable(ctx, nil)
	}); err != nil {
		return err
	}
	go c.consumeNetwork()
	return nil
}

func (c *Chrome) NetworkEvents() <-chan NetworkEvent { return c.netCh }

// sentRequest is the request-side metadata joined into the response
// event, which carries neither method nor request headers.
type sentRequest struct {
	method  string
	headers traffic.Header
}

func (c *Chrome) consumeNetwork() {
	responses, err := c.client.Network.ResponseReceived(c.ctx)
	if err != nil {
		ilog.L().Err(err).Msg("subscribe network responses")
		return
	}
	defer responses.Close()
	requests, err := c.client.Network.RequestWillBeSent(c.ctx)
	if err != nil {
		ilog.L().Err(err).Msg("subscribe network requests")
		return
	}
	defer requests.Close()

	var (
		sentMu sync.Mutex
		sent   = make(map[string]sentRequest)
	)
	go func() {
		for {
			ev, err := requests.Recv()
			if err != nil {
				return
			}
			sentMu.Lock()
			// Entries are removed on join; requests that never get a
			// response (aborted, blocked upstream) would pile up, so the
			// map is dropped wholesale past a cap.
			if len(sent) > 4096 {
				sent = make(map[string]sentRequest)
			}
			sent[string(ev.RequestID)] = sentRequest{
				method:  ev.Request.Method,
				headers: adapter.HeadersFromRaw(ev.Request.Headers),
			}
			sentMu.Unlock()
		}
	}()

	for {
		ev, err := responses.Recv()
		if err != nil {
			return
		}
		out := NetworkEvent{
			RequestID:       string(ev.RequestID),
			URL:             ev.Response.URL,
			Status:          ev.Response.Status,
			ResourceType:    string(ev.Type),
			ResponseHeaders: adapter.HeadersFromRaw(ev.Response.Headers),
			Timestamp:       time.Now().UnixMilli(),
		}
		if len(ev.Response.RequestHeaders) > 0 {
			out.RequestHeaders = adapter.HeadersFromRaw(ev.Response.RequestHeaders)
		}
		sentMu.Lock()
		if sr, ok := sent[string(ev.RequestID)]; ok {
			out.Method = sr.method
			if out.RequestHeaders == nil {
				out.RequestHeaders = sr.headers
			}
			delete(sent, string(ev.RequestID))
		}
		sentMu.Unlock()
		if out.Method == "" {
			out.Method = "GET"
		}
		select {
		case c.netCh <- out:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Chrome) ResponseBody(ctx context.Context, requestID string) ([]byte, error) {
	var body []byte
	err := c.do(ctx, func(ctx context.Context) error {
		reply, err := c.client.Network.GetResponseBody(ctx,
			network.NewGetResponseBodyArgs(network.RequestID(requestID)))
		if err != nil {
			return err
		}
		if reply.Base64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(reply.Body)
			if err != nil {
				return fmt.Errorf("decode body: %w", err)
			}
			body = decoded
			return nil
		}
		body = []byte(reply.Body)
		return nil
	})
	return body, err
}

func (c *Chrome) EnableFetch(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	if c.fetchCancel != nil {
		return nil
	}

	pattern := "*"
	if err := c.do(ctx, func(ctx context.Context) error {
		return c.client.Fetch.Enable(ctx, &fetch.EnableArgs{
			Patterns: []fetch.RequestPattern{
				{URLPattern: &pattern, RequestStage: fetch.RequestStageRequest},
			},
		})
	}); err != nil {
		return err
	}

	fetchCtx, cancel := context.WithCancel(c.ctx)
	c.fetchCancel = cancel
	go c.consumeFetch(fetchCtx)
	return nil
}

func (c *Chrome) DisableFetch(ctx context.Context) error {
	c.fetchMu.Lock()
	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}
	c.fetchMu.Unlock()
	return c.do(ctx, func(ctx context.Context) error {
		return c.client.Fetch.Disable(ctx)
	})
}

func (c *Chrome) FetchEvents() <-chan PausedRequest { return c.fetchCh }

func (c *Chrome) consumeFetch(ctx context.Context) {
	stream, err := c.client.Fetch.RequestPaused(ctx)
	if err != nil {
		ilog.L().Err(err).Msg("subscribe paused requests")
		return
	}
	defer stream.Close()
	for {
		ev, err := stream.Recv()
		if err != nil {
			return
		}
		paused := PausedRequest{
			ID:      string(ev.RequestID),
			Request: *adapter.ToNeutralRequest(ev),
		}
		if ev.NetworkID != nil {
			paused.NetworkID = string(*ev.NetworkID)
		}
		select {
		case c.fetchCh <- paused:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Chrome) ContinueRequest(ctx context.Context, id string, headers traffic.Header) error {
	return c.do(ctx, func(ctx context.Context) error {
		args := &fetch.ContinueRequestArgs{RequestID: fetch.RequestID(id)}
		if len(headers) > 0 {
			args.Headers = adapter.ToHeaderEntries(headers)
		}
		return c.client.Fetch.ContinueRequest(ctx, args)
	})
}

func (c *Chrome) FailRequest(ctx context.Context, id string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.client.Fetch.FailRequest(ctx, &fetch.FailRequestArgs{
			RequestID:   fetch.RequestID(id),
			ErrorReason: network.ErrorReasonBlockedByClient,
		})
	})
}

func (c *Chrome) FulfillRequest(ctx context.Context, id string, res *traffic.Response) error {
	return c.do(ctx, func(ctx context.Context) error {
		args := &fetch.FulfillRequestArgs{
			RequestID:    fetch.RequestID(id),
			ResponseCode: res.StatusCode,
		}
		if len(res.Headers) > 0 {
			args.ResponseHeaders = adapter.ToHeaderEntries(res.Headers)
		}
		if len(res.Body) > 0 {
			args.Body = res.Body
		}
		return c.client.Fetch.FulfillRequest(ctx, args)
	})
}

func findBinary(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	for _, candidate := range defaultBinaries {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no chrome binary found; set browser.binary")
}
