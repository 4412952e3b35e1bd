package domain

import "time"

type SessionID string
type RequestID string
type InterventionID string

// State is the session lifecycle state. Exactly one session may be
// Running at a time; every operation except Launch requires Running.
type State string

const (
	StateUnstarted State = "unstarted"
	StateRunning   State = "running"
	StateClosed    State = "closed"
)

// SessionConfig carries browser launch options.
type SessionConfig struct {
	Headless          bool     `json:"headless"`
	Proxy             string   `json:"proxy,omitempty"`
	UserAgent         string   `json:"userAgent,omitempty"`
	Incognito         bool     `json:"incognito"`
	WindowWidth       int      `json:"windowWidth,omitempty"`
	WindowHeight      int      `json:"windowHeight,omitempty"`
	BlockPatterns     []string `json:"blockPatterns,omitempty"`
	BinaryPath        string   `json:"binaryPath,omitempty"`
	DevToolsPort      int      `json:"devToolsPort,omitempty"`
	PageLoadTimeoutMS int      `json:"pageLoadTimeoutMS,omitempty"`
}

type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// LogOutcome tags how an exchange terminated: a real network response,
// a synthetic abort, or a synthetic mock.
type LogOutcome string

const (
	OutcomeLive    LogOutcome = "live"
	OutcomeBlocked LogOutcome = "blocked"
	OutcomeMocked  LogOutcome = "mocked"
)

// NetworkLogEntry is one observed HTTP exchange. Bodies are never stored
// inline; they are fetched on demand through the capture buffer.
type NetworkLogEntry struct {
	RequestID       RequestID         `json:"requestId"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	ResourceType    string            `json:"resourceType,omitempty"`
	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	Status          int               `json:"status"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	Outcome         LogOutcome        `json:"outcome"`
	MatchedRule     string            `json:"matchedRule,omitempty"`
	Timestamp       int64             `json:"timestamp"`
}

type CaptchaType string

const (
	CaptchaNone           CaptchaType = "none"
	CaptchaTurnstile      CaptchaType = "turnstile"
	CaptchaRecaptchaV2    CaptchaType = "recaptcha_v2"
	CaptchaRecaptchaV3    CaptchaType = "recaptcha_v3"
	CaptchaHCaptcha       CaptchaType = "hcaptcha"
	CaptchaImageChallenge CaptchaType = "image_challenge"
	CaptchaPuzzle         CaptchaType = "puzzle"
	CaptchaUnknown        CaptchaType = "unknown"
)

// ParseCaptchaType maps free-form tags to a known CaptchaType.
func ParseCaptchaType(s string) CaptchaType {
	switch CaptchaType(s) {
	case CaptchaTurnstile, CaptchaRecaptchaV2, CaptchaRecaptchaV3,
		CaptchaHCaptcha, CaptchaImageChallenge, CaptchaPuzzle, CaptchaNone:
		return CaptchaType(s)
	default:
		return CaptchaUnknown
	}
}

type InterventionState string

const (
	InterventionPending   InterventionState = "pending"
	InterventionResolved  InterventionState = "resolved"
	InterventionTimedOut  InterventionState = "timed_out"
	InterventionCancelled InterventionState = "cancelled"
)

// Intervention is one outstanding ask for human help. Created Pending,
// mutated only by resolution or session close, never deleted while the
// session lives.
type Intervention struct {
	ID          InterventionID    `json:"requestId"`
	CaptchaType CaptchaType       `json:"captchaType"`
	Message     string            `json:"message"`
	URL         string            `json:"url,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	State       InterventionState `json:"state"`
	Resolution  string            `json:"resolution,omitempty"`
}

// CaptchaOutcome is the result of an automatic handling attempt.
type CaptchaOutcome struct {
	Solved bool        `json:"solved"`
	Type   CaptchaType `json:"type"`
}

// HTTPResponse is the result of a make_request call issued with the
// active session's cookies.
type HTTPResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

type ElementRef struct {
	Selector string `json:"selector"`
	Index    int    `json:"index"`
	Tag      string `json:"tag,omitempty"`
	ID       string `json:"id,omitempty"`
	Class    string `json:"class,omitempty"`
	Text     string `json:"text,omitempty"`
}

type FormInput struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

type Form struct {
	Action string      `json:"action"`
	Method string      `json:"method"`
	Inputs []FormInput `json:"inputs"`
}

type ConsoleEntry struct {
	Level     string `json:"level"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
