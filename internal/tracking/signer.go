package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Signing purposes. The purpose is part of the signed string so an
// open signature can never be replayed as an unsubscribe.
const (
	PurposeOpen        = "open"
	PurposeClick       = "click"
	PurposeUnsubscribe = "unsubscribe"
)

// Signer produces and verifies the keyed signatures embedded in
// tracking URLs. It is stateless; all context travels in the URL.
// A Signer with an empty secret or base URL is disabled: URL builders
// return "" and tracking degrades to absent rather than broken.
type Signer struct {
	secret  []byte
	baseURL string
}

// NewSigner creates a signer. Either argument may be empty, which
// disables URL generation.
func NewSigner(secret, baseURL string) *Signer {
	return &Signer{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Enabled reports whether tracking URLs can be generated.
func (s *Signer) Enabled() bool {
	return len(s.secret) > 0 && s.baseURL != ""
}

// Sign computes the hex HMAC-SHA256 over the delimited tuple
// (purpose, campaignID, recipientID[, destination]).
func (s *Signer) Sign(purpose, campaignID, recipientID, destination string) string {
	mac := hmac.New(sha256.New, s.secret)
	payload := purpose + "|" + campaignID + "|" + recipientID
	if destination != "" {
		payload += "|" + destination
	}
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature in constant time.
func (s *Signer) Verify(purpose, campaignID, recipientID, destination, signature string) bool {
	if len(s.secret) == 0 || signature == "" {
		return false
	}
	expected := s.Sign(purpose, campaignID, recipientID, destination)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// OpenURL returns the signed open-pixel URL, or "" when disabled.
func (s *Signer) OpenURL(campaignID, recipientID string) string {
	if !s.Enabled() {
		return ""
	}
	return fmt.Sprintf("%s/t/open?c=%s&r=%s&s=%s",
		s.baseURL,
		url.QueryEscape(campaignID),
		url.QueryEscape(recipientID),
		s.Sign(PurposeOpen, campaignID, recipientID, ""),
	)
}

// ClickURL returns the signed redirect URL for a destination link, or
// "" when disabled.
func (s *Signer) ClickURL(campaignID, recipientID, destination string) string {
	if !s.Enabled() {
		return ""
	}
	return fmt.Sprintf("%s/t/click?c=%s&r=%s&u=%s&s=%s",
		s.baseURL,
		url.QueryEscape(campaignID),
		url.QueryEscape(recipientID),
		url.QueryEscape(destination),
		s.Sign(PurposeClick, campaignID, recipientID, destination),
	)
}

// UnsubscribeURL returns the signed unsubscribe URL, or "" when disabled.
func (s *Signer) UnsubscribeURL(campaignID, recipientID string) string {
	if !s.Enabled() {
		return ""
	}
	return fmt.Sprintf("%s/t/unsubscribe?c=%s&r=%s&s=%s",
		s.baseURL,
		url.QueryEscape(campaignID),
		url.QueryEscape(recipientID),
		s.Sign(PurposeUnsubscribe, campaignID, recipientID, ""),
	)
}
