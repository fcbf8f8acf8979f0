package whop

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "Whop-Signature"

var ErrInvalidSignature = errors.New("whop: invalid webhook signature")

// VerifySignature checks an HMAC-SHA256 over the raw webhook body. The header
// is either a bare hex digest (optionally "sha256=" prefixed) or the
// "t=<unix>,v1=<hex>" form, where the signed content is "<t>.<body>".
func VerifySignature(secret string, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if secret == "" || header == "" {
		return ErrInvalidSignature
	}

	signed := body
	var candidates []string
	if strings.Contains(header, "v1=") {
		var ts string
		for _, part := range strings.Split(header, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				continue
			}
			switch k {
			case "t":
				ts = v
			case "v1":
				candidates = append(candidates, v)
			}
		}
		if ts != "" {
			signed = append([]byte(ts+"."), body...)
		}
	} else {
		candidates = append(candidates, strings.TrimPrefix(header, "sha256="))
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(signed)
	expected := mac.Sum(nil)
	for _, c := range candidates {
		got, err := hex.DecodeString(c)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign produces the bare hex signature for body; used by tests and tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
