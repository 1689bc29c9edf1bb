package domain

import "fmt"

// Page is one of the application's screens.
type Page string

const (
	PageCountdown Page = "countdown"
	PageTogether  Page = "together"
	PageNotes     Page = "notes"
	PageBucket    Page = "bucket"
)

// IsValid reports whether p names a known page.
func (p Page) IsValid() bool {
	switch p {
	case PageCountdown, PageTogether, PageNotes, PageBucket:
		return true
	}
	return false
}

// RequiresPIN reports whether the page is behind the PIN gate.
func (p Page) RequiresPIN() bool {
	return p == PageNotes || p == PageBucket
}

// AppState is the whole navigation state of a client. It is a plain value:
// transitions take a state and return the next one.
type AppState struct {
	Page         Page `json:"page"`
	PinModalOpen bool `json:"pin_modal_open"`
	PendingPage  Page `json:"pending_page,omitempty"`
	PinVerified  bool `json:"pin_verified"`
}

// InitialState is the state a fresh client starts in.
func InitialState() AppState {
	return AppState{Page: PageCountdown}
}

// Navigate moves to page. Gated pages open the PIN modal instead until the
// PIN has been verified, remembering where the user wanted to go.
func Navigate(s AppState, page Page) (AppState, error) {
	if !page.IsValid() {
		return s, fmt.Errorf("navigate to %q: %w", page, ErrInvalidPage)
	}
	if page.RequiresPIN() && !s.PinVerified {
		s.PinModalOpen = true
		s.PendingPage = page
		return s, nil
	}
	s.Page = page
	return s, nil
}

// PinSucceeded records a verified PIN and completes any pending navigation.
func PinSucceeded(s AppState) AppState {
	s.PinVerified = true
	if s.PendingPage != "" {
		s.Page = s.PendingPage
		s.PendingPage = ""
	}
	s.PinModalOpen = false
	return s
}

// ClosePinModal dismisses the PIN modal and drops the pending navigation.
func ClosePinModal(s AppState) AppState {
	s.PinModalOpen = false
	s.PendingPage = ""
	return s
}
