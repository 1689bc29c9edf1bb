package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/nextchapter/internal/domain"
)

func TestNavigate(t *testing.T) {
	verified := domain.AppState{Page: domain.PageTogether, PinVerified: true}

	tests := []struct {
		name  string
		state domain.AppState
		page  domain.Page
		want  domain.AppState
	}{
		{
			name:  "open page switches directly",
			state: domain.InitialState(),
			page:  domain.PageTogether,
			want:  domain.AppState{Page: domain.PageTogether},
		},
		{
			name:  "gated page opens PIN modal",
			state: domain.InitialState(),
			page:  domain.PageNotes,
			want:  domain.AppState{Page: domain.PageCountdown, PinModalOpen: true, PendingPage: domain.PageNotes},
		},
		{
			name:  "gated page after verification switches directly",
			state: verified,
			page:  domain.PageBucket,
			want:  domain.AppState{Page: domain.PageBucket, PinVerified: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := domain.Navigate(tt.state, tt.page)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNavigate_UnknownPage(t *testing.T) {
	start := domain.InitialState()

	got, err := domain.Navigate(start, "settings")

	require.ErrorIs(t, err, domain.ErrInvalidPage)
	assert.Equal(t, start, got)
}

func TestPinSucceeded(t *testing.T) {
	t.Run("completes pending navigation", func(t *testing.T) {
		s, err := domain.Navigate(domain.InitialState(), domain.PageBucket)
		require.NoError(t, err)

		got := domain.PinSucceeded(s)

		assert.Equal(t, domain.AppState{Page: domain.PageBucket, PinVerified: true}, got)
	})

	t.Run("without pending page stays put", func(t *testing.T) {
		got := domain.PinSucceeded(domain.AppState{Page: domain.PageTogether, PinModalOpen: true})

		assert.Equal(t, domain.AppState{Page: domain.PageTogether, PinVerified: true}, got)
	})
}

func TestClosePinModal(t *testing.T) {
	s, err := domain.Navigate(domain.InitialState(), domain.PageNotes)
	require.NoError(t, err)

	got := domain.ClosePinModal(s)

	assert.Equal(t, domain.InitialState(), got)
}

func TestTransitionsDoNotMutateInput(t *testing.T) {
	start := domain.InitialState()

	_, err := domain.Navigate(start, domain.PageNotes)
	require.NoError(t, err)

	assert.Equal(t, domain.InitialState(), start)
}
