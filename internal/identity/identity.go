// Package identity provides anonymous per-device identity primitives.
//
// A device is identified by a long-lived fingerprint cookie. When the
// cookie cannot be established (cookies disabled, storage blocked) the
// request falls back to an ephemeral per-tab identifier; sessions for
// such devices do not survive a reload. That is an accepted degradation,
// not an error.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	DeviceCookieName  = "voz_device_id"
	SessionHeaderName = "X-Voz-Session-ID"
	DefaultTabIDValue = "default"
	deviceCookieAge   = 180 * 24 * time.Hour

	devicePrefix    = "dev_"
	ephemeralPrefix = "tab_"
)

type contextKey int

const (
	deviceIDKey contextKey = iota
	tabIDKey
)

var (
	deviceIDPattern = regexp.MustCompile(`^(dev|tab)_[a-f0-9]{32}$`)
	tabIDPattern    = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// DeviceIDFromContext extracts the device fingerprint from the request context.
func DeviceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return ""
}

// TabIDFromContext extracts the per-tab session ID from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return DefaultTabIDValue
}

// WithIdentity returns a context carrying the given device and tab IDs.
// Used by the websocket voice channel, which runs outside the middleware.
func WithIdentity(ctx context.Context, deviceID, tabID string) context.Context {
	ctx = context.WithValue(ctx, deviceIDKey, deviceID)
	return context.WithValue(ctx, tabIDKey, sanitizeTabID(tabID))
}

// Ephemeral reports whether the device ID is a per-tab fallback that does
// not persist across reloads.
func Ephemeral(deviceID string) bool {
	return strings.HasPrefix(deviceID, ephemeralPrefix)
}

func generateID(prefix string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}

// NewEphemeralID returns a random per-tab identifier for the degraded path.
func NewEphemeralID() string {
	id, err := generateID(ephemeralPrefix)
	if err != nil {
		// crypto/rand failing is effectively unreachable; fall back to a
		// constant so callers still get a routable identity.
		return ephemeralPrefix + strings.Repeat("0", 32)
	}
	return id
}

// IsValidDeviceID reports whether id is a well-formed device fingerprint.
func IsValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !tabIDPattern.MatchString(id) {
		return DefaultTabIDValue
	}
	return id
}

func setDeviceCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieAge.Seconds()),
		Expires:  time.Now().Add(deviceCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateDeviceID(w http.ResponseWriter, r *http.Request, isDev bool) string {
	if c, err := r.Cookie(DeviceCookieName); err == nil && IsValidDeviceID(c.Value) {
		setDeviceCookie(w, c.Value, isDev)
		return c.Value
	}

	id, err := generateID(devicePrefix)
	if err != nil {
		// Fingerprinting failed: degrade to a per-tab identity.
		return NewEphemeralID()
	}

	setDeviceCookie(w, id, isDev)
	return id
}

func tabIDFromRequest(r *http.Request) string {
	tid := r.Header.Get(SessionHeaderName)
	if tid == "" {
		tid = r.URL.Query().Get("session_id")
	}
	return sanitizeTabID(tid)
}

// Middleware injects the per-device fingerprint and per-tab session ID.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID := getOrCreateDeviceID(w, r, isDev)
			tabID := tabIDFromRequest(r)

			ctx := context.WithValue(r.Context(), deviceIDKey, deviceID)
			ctx = context.WithValue(ctx, tabIDKey, tabID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
