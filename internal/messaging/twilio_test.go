package messaging

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestValidateTwilioSignature(t *testing.T) {
	authToken := "secret-token"
	webhookURL := "https://example.com/webhooks/sms"

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("From", "+15551234567")
	form.Set("To", "+15559876543")
	form.Set("Body", "YES")

	payload := buildSignaturePayload(webhookURL, form)
	signature := computeSignature(payload, authToken)

	req := httptest.NewRequest("POST", "/webhooks/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", signature)

	if !ValidateTwilioSignature(req, authToken, webhookURL) {
		t.Fatalf("expected valid signature")
	}
}

func TestValidateTwilioSignatureRejectsTampering(t *testing.T) {
	authToken := "secret-token"
	webhookURL := "https://example.com/webhooks/sms"

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("Body", "YES")

	payload := buildSignaturePayload(webhookURL, form)
	signature := computeSignature(payload, authToken)

	// Body changed after signing.
	form.Set("Body", "NO")
	req := httptest.NewRequest("POST", "/webhooks/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", signature)

	if ValidateTwilioSignature(req, authToken, webhookURL) {
		t.Fatalf("expected tampered body to fail validation")
	}
}

func TestValidateTwilioSignatureMissingHeader(t *testing.T) {
	req := httptest.NewRequest("POST", "/webhooks/sms", nil)
	if ValidateTwilioSignature(req, "token", "https://example.com/webhooks/sms") {
		t.Fatalf("expected missing header to fail validation")
	}
}

func TestValidateTwilioSignatureBehindProxy(t *testing.T) {
	authToken := "secret-token"

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("Body", "YES")

	// Signed over the public URL the proxy exposes, not the configured
	// base URL.
	payload := buildSignaturePayload("https://dispatch.example.com/webhooks/sms", form)
	signature := computeSignature(payload, authToken)

	req := httptest.NewRequest("POST", "http://internal:8080/webhooks/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "dispatch.example.com")
	req.Header.Set("X-Twilio-Signature", signature)

	if !ValidateTwilioSignature(req, authToken, "https://stale.example.com/webhooks/sms") {
		t.Fatalf("expected forwarded-header URL to validate")
	}
}

func TestParseInboundSMSWithMedia(t *testing.T) {
	form := url.Values{}
	form.Set("MessageSid", "MM456")
	form.Set("From", "+15551234567")
	form.Set("To", "+15559876543")
	form.Set("Body", "photo of the door")
	form.Set("NumMedia", "2")
	form.Set("MediaUrl0", "https://api.example.com/media/0")
	form.Set("MediaUrl1", "https://api.example.com/media/1")

	req := httptest.NewRequest("POST", "/webhooks/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	msg, err := ParseInboundSMS(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.MessageSid != "MM456" || len(msg.MediaURLs) != 2 {
		t.Fatalf("unexpected parse result: %+v", msg)
	}
}

func TestTwiML(t *testing.T) {
	got := string(TwiML("Job confirmed! Customer: Dana & Co at 1 Main St."))
	if !strings.Contains(got, "<Response><Message>") {
		t.Fatalf("missing envelope: %s", got)
	}
	if !strings.Contains(got, "Dana &amp; Co") {
		t.Fatalf("expected escaped body: %s", got)
	}

	empty := string(TwiML(""))
	if !strings.Contains(empty, "<Response></Response>") {
		t.Fatalf("expected empty response: %s", empty)
	}
}

func TestBuildAbsoluteURLHonorsForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest("POST", "http://internal:8080/webhooks/sms?x=1", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "dispatch.example.com")

	got := buildAbsoluteURL(req)
	if got != "https://dispatch.example.com/webhooks/sms?x=1" {
		t.Fatalf("unexpected url: %s", got)
	}
}
