package tracking

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerVerify(t *testing.T) {
	signer := NewSigner("test-secret", "https://track.example.com")

	tests := []struct {
		name        string
		purpose     string
		campaignID  string
		recipientID string
		destination string
		tamper      func(sig string) string
		want        bool
	}{
		{
			name:        "valid open signature",
			purpose:     PurposeOpen,
			campaignID:  "camp-1",
			recipientID: "rcpt-1",
			want:        true,
		},
		{
			name:        "valid click signature with destination",
			purpose:     PurposeClick,
			campaignID:  "camp-1",
			recipientID: "rcpt-1",
			destination: "https://example.com/offer",
			want:        true,
		},
		{
			name:        "tampered signature",
			purpose:     PurposeOpen,
			campaignID:  "camp-1",
			recipientID: "rcpt-1",
			tamper: func(sig string) string {
				return sig[:len(sig)-1] + "0"
			},
			want: false,
		},
		{
			name:        "empty signature",
			purpose:     PurposeOpen,
			campaignID:  "camp-1",
			recipientID: "rcpt-1",
			tamper:      func(string) string { return "" },
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := signer.Sign(tt.purpose, tt.campaignID, tt.recipientID, tt.destination)
			if tt.tamper != nil {
				sig = tt.tamper(sig)
			}
			got := signer.Verify(tt.purpose, tt.campaignID, tt.recipientID, tt.destination, sig)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSignerVerify_CrossRecipient(t *testing.T) {
	signer := NewSigner("test-secret", "https://track.example.com")

	sig := signer.Sign(PurposeOpen, "camp-1", "rcpt-1", "")

	// A signature minted for one recipient must not verify for another.
	assert.False(t, signer.Verify(PurposeOpen, "camp-1", "rcpt-2", "", sig))
	assert.False(t, signer.Verify(PurposeOpen, "camp-2", "rcpt-1", "", sig))
}

func TestSignerVerify_CrossPurpose(t *testing.T) {
	signer := NewSigner("test-secret", "https://track.example.com")

	sig := signer.Sign(PurposeOpen, "camp-1", "rcpt-1", "")

	// An open signature cannot be replayed as an unsubscribe.
	assert.False(t, signer.Verify(PurposeUnsubscribe, "camp-1", "rcpt-1", "", sig))
}

func TestSignerVerify_TamperedDestination(t *testing.T) {
	signer := NewSigner("test-secret", "https://track.example.com")

	sig := signer.Sign(PurposeClick, "camp-1", "rcpt-1", "https://example.com/offer")

	assert.False(t, signer.Verify(PurposeClick, "camp-1", "rcpt-1", "https://evil.example.com", sig))
}

func TestSignerURLs(t *testing.T) {
	signer := NewSigner("test-secret", "https://track.example.com/")

	openURL := signer.OpenURL("camp-1", "rcpt-1")
	require.NotEmpty(t, openURL)
	assert.True(t, strings.HasPrefix(openURL, "https://track.example.com/t/open?"))

	parsed, err := url.Parse(openURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "camp-1", q.Get("c"))
	assert.Equal(t, "rcpt-1", q.Get("r"))
	assert.True(t, signer.Verify(PurposeOpen, q.Get("c"), q.Get("r"), "", q.Get("s")))

	clickURL := signer.ClickURL("camp-1", "rcpt-1", "https://example.com/a?x=1&y=2")
	parsed, err = url.Parse(clickURL)
	require.NoError(t, err)
	q = parsed.Query()
	assert.Equal(t, "https://example.com/a?x=1&y=2", q.Get("u"))
	assert.True(t, signer.Verify(PurposeClick, q.Get("c"), q.Get("r"), q.Get("u"), q.Get("s")))

	unsubURL := signer.UnsubscribeURL("camp-1", "rcpt-1")
	assert.True(t, strings.HasPrefix(unsubURL, "https://track.example.com/t/unsubscribe?"))
}

func TestSignerDisabled(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		baseURL string
	}{
		{name: "no secret", secret: "", baseURL: "https://track.example.com"},
		{name: "no base url", secret: "test-secret", baseURL: ""},
		{name: "neither", secret: "", baseURL: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := NewSigner(tt.secret, tt.baseURL)

			assert.False(t, signer.Enabled())
			assert.Empty(t, signer.OpenURL("camp-1", "rcpt-1"))
			assert.Empty(t, signer.ClickURL("camp-1", "rcpt-1", "https://example.com"))
			assert.Empty(t, signer.UnsubscribeURL("camp-1", "rcpt-1"))
		})
	}
}
