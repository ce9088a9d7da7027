package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// ValidateTwilioSignature validates that a request came from the SMS
// gateway. The signature is HMAC-SHA1 over the full webhook URL followed
// by the POST params in sorted key order, base64-encoded. The gateway
// signs the URL it was configured to call, which can differ from the
// configured base URL behind a proxy, so the URL reconstructed from
// forwarding headers is accepted as well.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}

	if err := r.ParseForm(); err != nil {
		return false
	}

	for _, u := range []string{webhookURL, buildAbsoluteURL(r)} {
		if u == "" {
			continue
		}
		expected := computeSignature(buildSignaturePayload(u, r.PostForm), authToken)
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return true
		}
	}
	return false
}

// buildSignaturePayload creates the payload string for signature verification
func buildSignaturePayload(url string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(url)

	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}

	return payload.String()
}

// computeSignature computes the HMAC-SHA1 signature
func computeSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// buildAbsoluteURL reconstructs the externally visible webhook URL the
// gateway signed, honoring proxy forwarding headers.
func buildAbsoluteURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

// InboundSMS represents an incoming SMS webhook payload.
type InboundSMS struct {
	MessageSid string
	AccountSid string
	From       string
	To         string
	Body       string
	MediaURLs  []string
}

// ParseInboundSMS parses a form-encoded SMS webhook request. MMS
// attachments arrive as MediaUrl0..MediaUrl{NumMedia-1}.
func ParseInboundSMS(r *http.Request) (*InboundSMS, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse form: %w", err)
	}

	msg := &InboundSMS{
		MessageSid: r.FormValue("MessageSid"),
		AccountSid: r.FormValue("AccountSid"),
		From:       r.FormValue("From"),
		To:         r.FormValue("To"),
		Body:       r.FormValue("Body"),
	}

	if numMedia, err := strconv.Atoi(r.FormValue("NumMedia")); err == nil && numMedia > 0 {
		for i := 0; i < numMedia; i++ {
			if u := r.FormValue(fmt.Sprintf("MediaUrl%d", i)); u != "" {
				msg.MediaURLs = append(msg.MediaURLs, u)
			}
		}
	}

	return msg, nil
}

// TwiML renders the gateway reply document for an inbound webhook. An
// empty body yields an empty <Response/> (acknowledge without replying).
func TwiML(body string) []byte {
	var b strings.Builder
	b.WriteString(xml.Header)
	if body == "" {
		b.WriteString("<Response></Response>")
		return []byte(b.String())
	}
	b.WriteString("<Response><Message>")
	_ = xml.EscapeText(&b, []byte(body))
	b.WriteString("</Message></Response>")
	return []byte(b.String())
}
