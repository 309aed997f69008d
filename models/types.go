package models

import (
	"net/http"
	"time"
)

// EventKind distinguishes the two halves of an intercepted exchange.
type EventKind string

const (
	EventRequest  EventKind = "request"
	EventResponse EventKind = "response"
)

// NetworkEvent is one observed request or response from the page run.
// Events are owned by the current run and discarded when it ends.
type NetworkEvent struct {
	Kind         EventKind
	URL          string
	ResourceType string
	Status       int
	Headers      map[string]string
	Body         string
}

// CandidateBundle is one observed chunk of rendered creative content.
// Several bundles may share a RenderID when the site delivers the payload
// in chunks; they are concatenated by id before resolution.
type CandidateBundle struct {
	RenderID     string
	FletchID     string
	RawText      string
	ArrivalOrder int
}

// ResolutionMethod records how a creative identity was decided.
type ResolutionMethod string

const (
	MethodAPI       ResolutionMethod = "api"
	MethodFrequency ResolutionMethod = "frequency"
	MethodStatic    ResolutionMethod = "static"
)

// CreativeIdentity is the outcome of disambiguating the real creative
// from the decoy bundles of one run. Immutable once produced.
type CreativeIdentity struct {
	ResolvedID string
	Method     ResolutionMethod
	Confidence float64
}

// ExtractionResult holds the identifiers pulled from the winning bundle.
// Absence is expressed as an empty value, never as an error.
type ExtractionResult struct {
	// VideoRefs is an ordered, deduplicated set of at most 3 references.
	VideoRefs   []string `json:"video_refs"`
	StoreRef    string   `json:"store_ref,omitempty"`
	SponsorName string   `json:"sponsor_name,omitempty"`
}

// HasStoreRef reports whether a store reference was found.
func (r ExtractionResult) HasStoreRef() bool { return r.StoreRef != "" }

// HasSponsor reports whether a sponsor name was found.
func (r ExtractionResult) HasSponsor() bool { return r.SponsorName != "" }

// ValidationOutcome is the result of the post-run consistency checks.
type ValidationOutcome struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Success  bool     `json:"success"`
}

// SessionContext carries the credentials captured during a full page
// acquisition so the rest of the batch can reuse them through direct
// calls. It is owned by exactly one worker and released at batch end.
type SessionContext struct {
	Cookies       []*http.Cookie
	UserAgent     string
	EstablishedAt time.Time
}

// NewSession creates an empty SessionContext stamped now.
func NewSession() *SessionContext {
	return &SessionContext{EstablishedAt: time.Now()}
}

// Age returns how long ago the session was established.
func (s *SessionContext) Age() time.Duration {
	return time.Since(s.EstablishedAt)
}
