package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// NewHTTPClient builds the HTTP client shared by the adapters. External
// payment APIs occasionally hang; every call also runs under a per-call
// context deadline, this client timeout is the hard upper bound.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          64,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
		},
	}
}

// decodePayload turns an inbound webhook body into a generic map. Gateways
// send application/json, application/x-www-form-urlencoded, or unlabeled raw
// key=value text; all three are supported.
func decodePayload(body []byte, contentType string) map[string]interface{} {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil
	}

	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "json") || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var m map[string]interface{}
		if err := json.Unmarshal(body, &m); err == nil {
			return m
		}
	}

	// form-urlencoded, or raw key=value text sent without a content type
	if values, err := url.ParseQuery(trimmed); err == nil && len(values) > 0 {
		m := make(map[string]interface{}, len(values))
		for k, v := range values {
			if len(v) > 0 {
				m[k] = v[0]
			}
		}
		if len(m) > 0 {
			return m
		}
	}

	// last resort: manual key=value split for payloads ParseQuery rejects
	m := make(map[string]interface{})
	for _, pair := range strings.FieldsFunc(trimmed, func(r rune) bool { return r == '&' || r == '\n' }) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// digString walks nested maps (and first elements of arrays) to extract a
// string value. Numeric JSON values are rendered back as their literal text.
func digString(m map[string]interface{}, path ...string) string {
	var cur interface{} = m
	for _, key := range path {
		switch node := cur.(type) {
		case map[string]interface{}:
			cur = node[key]
		case []interface{}:
			if len(node) == 0 {
				return ""
			}
			inner, ok := node[0].(map[string]interface{})
			if !ok {
				return ""
			}
			cur = inner[key]
		default:
			return ""
		}
	}
	switch v := cur.(type) {
	case string:
		return v
	case float64:
		b, _ := json.Marshal(v)
		return string(b)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// hmacSHA256 computes the raw HMAC-SHA256 of body under secret.
func hmacSHA256(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// checkHexSignature verifies a hex-encoded HMAC-SHA256 signature. The header
// value may be bare hex or a "t=...,v1=<hex>" composite.
func checkHexSignature(secret string, body []byte, header string) bool {
	sig := header
	for _, part := range strings.Split(header, ",") {
		if k, v, ok := strings.Cut(strings.TrimSpace(part), "="); ok && k == "v1" {
			sig = v
		}
	}
	expected := hex.EncodeToString(hmacSHA256(secret, body))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(sig)))
}

// checkBase64Signature verifies a base64-encoded HMAC-SHA256 signature, the
// scheme the legacy commerce webhooks use.
func checkBase64Signature(secret string, body []byte, header string) bool {
	expected := base64.StdEncoding.EncodeToString(hmacSHA256(secret, body))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(header)))
}
