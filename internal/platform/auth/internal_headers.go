package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSubject = "X-Raid-Subject"
	HeaderLabel   = "X-Raid-Label"
	HeaderRoles   = "X-Raid-Roles"

	HeaderInternalAuthTimestamp = "X-Raid-Auth-Ts"
	HeaderInternalAuthSignature = "X-Raid-Auth-Sig"
)

func ComputeInternalAuthSignature(secret string, ts string, method string, path string, requestID string, subject string, label string, roles string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("internal auth secret is required")
	}
	if strings.TrimSpace(ts) == "" {
		return "", errors.New("timestamp is required")
	}
	msg := internalAuthCanonical(ts, method, path, requestID, subject, label, roles)
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(msg)); err != nil {
		return "", fmt.Errorf("hmac: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func VerifyInternalAuthSignature(secret string, ts string, method string, path string, requestID string, subject string, label string, roles string, signature string) error {
	expected, err := ComputeInternalAuthSignature(secret, ts, method, path, requestID, subject, label, roles)
	if err != nil {
		return err
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return errors.New("signature is required")
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("invalid signature")
	}
	return nil
}

func VerifyInternalAuthTimestamp(ts string, now time.Time, maxSkew time.Duration) error {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return errors.New("timestamp is required")
	}
	parsed, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	if maxSkew <= 0 {
		return nil
	}

	tsTime := time.Unix(parsed, 0).UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if tsTime.After(now.Add(maxSkew)) || tsTime.Before(now.Add(-maxSkew)) {
		return errors.New("timestamp outside allowed skew")
	}
	return nil
}

// SignRequest stamps r with the identity headers and a signature over them.
// The request path and X-Request-Id must already be final.
func SignRequest(r *http.Request, secret string, identity Identity, now time.Time) error {
	roles := strings.Join(identity.Roles, ",")
	ts := strconv.FormatInt(now.UTC().Unix(), 10)
	sig, err := ComputeInternalAuthSignature(secret, ts, r.Method, r.URL.Path, r.Header.Get("X-Request-Id"), identity.Subject, identity.Label, roles)
	if err != nil {
		return err
	}
	r.Header.Set(HeaderSubject, identity.Subject)
	if identity.Label != "" {
		r.Header.Set(HeaderLabel, identity.Label)
	}
	if roles != "" {
		r.Header.Set(HeaderRoles, roles)
	}
	r.Header.Set(HeaderInternalAuthTimestamp, ts)
	r.Header.Set(HeaderInternalAuthSignature, sig)
	return nil
}

func internalAuthCanonical(ts string, method string, path string, requestID string, subject string, label string, roles string) string {
	parts := []string{
		strings.TrimSpace(ts),
		strings.ToUpper(strings.TrimSpace(method)),
		strings.TrimSpace(path),
		strings.TrimSpace(requestID),
		strings.TrimSpace(subject),
		strings.TrimSpace(label),
		strings.TrimSpace(roles),
	}
	return strings.Join(parts, "\n")
}
