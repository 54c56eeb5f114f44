package sso

import (
	"fmt"
	"time"
)

// OutcomeKind tags an Outcome
type OutcomeKind int

const (
	// OutcomeNoOp has no observable effect
	OutcomeNoOp OutcomeKind = iota
	// OutcomeReload replaces the URL and reloads the page after Delay
	OutcomeReload
	// OutcomeReplaceURL replaces the visible URL without reloading
	OutcomeReplaceURL
	// OutcomeRedirect navigates away, possibly to another host
	OutcomeRedirect
	// OutcomeError shows Reason to the user and navigates to the fallback URL
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoOp:
		return "noop"
	case OutcomeReload:
		return "reload"
	case OutcomeReplaceURL:
		return "replace_url"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the effect a host environment must carry out
type Outcome struct {
	Kind   OutcomeKind
	URL    string
	Delay  time.Duration
	Reason string
}

// NoOp returns the empty outcome
func NoOp() Outcome {
	return Outcome{Kind: OutcomeNoOp}
}

// Reload returns an outcome that shows url and reloads after delay
func Reload(url string, delay time.Duration) Outcome {
	return Outcome{Kind: OutcomeReload, URL: url, Delay: delay}
}

// ReplaceURL returns an outcome that swaps the visible URL
func ReplaceURL(url string) Outcome {
	return Outcome{Kind: OutcomeReplaceURL, URL: url}
}

// Redirect returns a full navigation outcome
func Redirect(url string) Outcome {
	return Outcome{Kind: OutcomeRedirect, URL: url}
}

// Error returns an outcome that reports reason and falls back to url
func Error(reason, fallback string) Outcome {
	return Outcome{Kind: OutcomeError, Reason: reason, URL: fallback}
}

// IsNoOp reports whether o has no effect
func (o Outcome) IsNoOp() bool {
	return o.Kind == OutcomeNoOp
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeNoOp:
		return "noop"
	case OutcomeReload:
		return fmt.Sprintf("reload(%s, %s)", o.URL, o.Delay)
	case OutcomeError:
		return fmt.Sprintf("error(%q, %s)", o.Reason, o.URL)
	default:
		return fmt.Sprintf("%s(%s)", o.Kind, o.URL)
	}
}

// State is the handshake state reached by a page load
type State int

const (
	StateIdle State = iota
	StateTokenReceived
	StateWpLoginAck
	StateNeedsSessionCheck
	StateNoOp
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTokenReceived:
		return "token_received"
	case StateWpLoginAck:
		return "wp_login_ack"
	case StateNeedsSessionCheck:
		return "needs_session_check"
	case StateNoOp:
		return "noop"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
