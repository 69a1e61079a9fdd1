package credential

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTTLSeconds = 3600
	// Epoch values above this are milliseconds, otherwise seconds.
	epochMillisThreshold = 10_000_000_000
	minRemainingTTL      = 60 * time.Second
)

// ErrOverlayUnsupported is returned for plugins without an overlay rule.
var ErrOverlayUnsupported = errors.New("unsupported provider for credential overlay")

type object = map[string]any

// Transform converts a raw remote credential payload into the file format
// pluginID reads, serialized as JSON.
func Transform(pluginID string, raw []byte, now time.Time) (string, error) {
	root, err := decodeObject(raw)
	if err != nil {
		return "", err
	}

	var out object
	switch pluginID {
	case PluginCodex:
		out, err = transformCodex(root, now)
	case PluginClaude:
		out, err = transformClaude(root)
	case PluginKimi:
		out, err = transformKimi(root)
	case PluginAntigravity:
		out, err = transformAntigravity(root, now)
	case PluginGemini:
		out, err = transformGemini(root, now)
	default:
		return "", ErrOverlayUnsupported
	}
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to serialize transformed %s auth: %w", pluginID, err)
	}
	return string(data), nil
}

func decodeObject(raw []byte) (object, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("invalid auth file JSON: %w", err)
	}
	root, ok := parsed.(object)
	if !ok {
		return nil, errors.New("auth file JSON root must be an object")
	}
	return root, nil
}

func transformCodex(root object, now time.Time) (object, error) {
	access, refresh, err := requireTokenPair(root)
	if err != nil {
		return nil, err
	}

	tokens := object{"access_token": access, "refresh_token": refresh}
	if idToken, ok := readString(root, "id_token", "idToken"); ok {
		tokens["id_token"] = idToken
	}
	if accountID, ok := readString(root, "account_id", "accountId"); ok {
		tokens["account_id"] = accountID
	}

	lastRefresh, ok := readString(root, "last_refresh", "lastRefresh")
	if !ok {
		lastRefresh = now.UTC().Format(time.RFC3339)
	}
	return object{"tokens": tokens, "last_refresh": lastRefresh}, nil
}

func transformClaude(root object) (object, error) {
	access, refresh, err := requireTokenPair(root)
	if err != nil {
		return nil, err
	}

	var expiresAt int64
	if raw, ok := readString(root, "expired", "expires_at", "expiresAt"); ok {
		expiresAt = parseExpiryMs(raw)
	}
	return object{"claudeAiOauth": object{
		"accessToken":  access,
		"refreshToken": refresh,
		"expiresAt":    expiresAt,
	}}, nil
}

func transformKimi(root object) (object, error) {
	access, refresh, err := requireTokenPair(root)
	if err != nil {
		return nil, err
	}

	tokenType, ok := readString(root, "token_type", "tokenType")
	if !ok {
		tokenType = "Bearer"
	}
	expired, hasExpired := readString(root, "expired", "expires_at", "expiresAt")

	var expiresAt int64
	if n, ok := readInt(root, "expires_at", "expiresAt"); ok {
		expiresAt = n
	} else if hasExpired {
		expiresAt = parseExpirySeconds(expired)
	}

	out := object{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    tokenType,
		"expires_at":    expiresAt,
	}
	if scope, ok := readString(root, "scope"); ok {
		out["scope"] = scope
	}
	if deviceID, ok := readString(root, "device_id", "deviceId"); ok {
		out["device_id"] = deviceID
	}
	if hasExpired {
		out["expired"] = expired
	}
	return out, nil
}

func transformAntigravity(root object, now time.Time) (object, error) {
	access, ok := readString(root, "access_token", "accessToken")
	if !ok {
		return nil, errors.New("missing access_token")
	}

	var expiresAtMs int64
	if raw, ok := readString(root, "expired", "expires_at", "expiresAt"); ok {
		expiresAtMs = parseExpiryMs(raw)
	}
	if expiresAtMs <= 0 {
		expiresAtMs = now.UnixMilli() + ttlSeconds(root)*1000
	}

	out := object{"accessToken": access, "expiresAtMs": expiresAtMs}
	if refresh, ok := readString(root, "refresh_token", "refreshToken"); ok {
		out["refreshToken"] = refresh
	}
	if projectID, ok := readString(root, "project_id", "projectId"); ok {
		out["projectId"] = projectID
	}
	if email, ok := readString(root, "email"); ok {
		out["email"] = email
	}
	return out, nil
}

func transformGemini(root object, now time.Time) (object, error) {
	nested, _ := root["token"].(object)

	access, hasAccess := readNested(root, nested, "access_token", "accessToken")
	refresh, hasRefresh := readNested(root, nested, "refresh_token", "refreshToken")
	if !hasAccess && !hasRefresh {
		return nil, errors.New("missing access_token and refresh_token")
	}

	out := object{"expiry_date": geminiExpiryMs(root, nested, now)}
	if hasAccess {
		out["access_token"] = access
	}
	if hasRefresh {
		out["refresh_token"] = refresh
	}
	if idToken, ok := readNested(root, nested, "id_token", "idToken"); ok {
		out["id_token"] = idToken
	}
	if clientID, ok := readNested(root, nested, "client_id", "clientId", "oauth_client_id", "oauthClientId"); ok {
		out["client_id"] = clientID
	}
	if secret, ok := readNested(root, nested, "client_secret", "clientSecret", "oauth_client_secret", "oauthClientSecret"); ok {
		out["client_secret"] = secret
	}
	return out, nil
}

// geminiExpiryMs walks the expiry fallbacks: root epoch, nested epoch, root
// timestamp, nested timestamp, then now plus the TTL.
func geminiExpiryMs(root, nested object, now time.Time) int64 {
	if raw, ok := readString(root, "expiry_date", "expiryDate"); ok {
		if ms, ok := parseEpochToMs(raw); ok {
			return ms
		}
	}
	if raw, ok := readString(nested, "expiry_date", "expiryDate"); ok {
		if ms, ok := parseEpochToMs(raw); ok {
			return ms
		}
	}
	if raw, ok := readString(root, "expired", "expires_at", "expiresAt"); ok {
		if ms := parseExpiryMs(raw); ms > 0 {
			return ms
		}
	}
	if raw, ok := readString(nested, "expiry", "expired", "expires_at", "expiresAt"); ok {
		if ms := parseExpiryMs(raw); ms > 0 {
			return ms
		}
	}

	ttl, ok := readInt(root, "expires_in", "expiresIn")
	if !ok {
		ttl, ok = readInt(nested, "expires_in", "expiresIn")
	}
	if !ok {
		ttl = defaultTTLSeconds
	}
	return now.UnixMilli() + ttl*1000
}

func requireTokenPair(root object) (string, string, error) {
	access, ok := readString(root, "access_token", "accessToken")
	if !ok {
		return "", "", errors.New("missing access_token")
	}
	refresh, ok := readString(root, "refresh_token", "refreshToken")
	if !ok {
		return "", "", errors.New("missing refresh_token")
	}
	return access, refresh, nil
}

func ttlSeconds(root object) int64 {
	if n, ok := readInt(root, "expires_in", "expiresIn"); ok {
		return n
	}
	return defaultTTLSeconds
}

// readInt parses the first usable value of keys as an integer.
func readInt(obj object, keys ...string) (int64, bool) {
	raw, ok := readString(obj, keys...)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	return n, err == nil
}

// readString returns the first of keys holding a usable scalar.
func readString(obj object, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := valueToString(obj[key]); ok {
			return s, true
		}
	}
	return "", false
}

func readNested(root, nested object, keys ...string) (string, bool) {
	if s, ok := readString(root, keys...); ok {
		return s, true
	}
	return readString(nested, keys...)
}

// valueToString accepts non-blank strings (trimmed), numbers and booleans.
func valueToString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		return trimmed, trimmed != ""
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

// parseExpiryMs parses an RFC 3339 timestamp into epoch milliseconds, or 0.
func parseExpiryMs(raw string) int64 {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

func parseExpirySeconds(raw string) int64 {
	ms := parseExpiryMs(raw)
	if ms <= 0 {
		return 0
	}
	return ms / 1000
}

// parseEpochToMs reads an integer epoch in seconds or milliseconds.
func parseEpochToMs(raw string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return epochToMs(n)
}

func epochToMs(n int64) (int64, bool) {
	switch {
	case n > epochMillisThreshold:
		return n, true
	case n > 0:
		return n * 1000, true
	default:
		return 0, false
	}
}

// IsFresh reports whether a cached payload may be reused. Only payloads with
// an embedded expiry are checked; they must outlive now by a minute.
func IsFresh(pluginID, payload string, now time.Time) bool {
	if pluginID != PluginAntigravity && pluginID != PluginGemini {
		return true
	}

	root, err := decodeObject([]byte(payload))
	if err != nil {
		return false
	}

	var expiresAtMs int64
	var ok bool
	switch pluginID {
	case PluginAntigravity:
		expiresAtMs, ok = antigravityExpiry(root["expiresAtMs"])
	case PluginGemini:
		raw, present := root["expiry_date"]
		if !present {
			raw = root["expiryDate"]
		}
		expiresAtMs, ok = geminiCachedExpiry(raw)
	}
	if !ok {
		return false
	}
	return expiresAtMs > now.Add(minRemainingTTL).UnixMilli()
}

func antigravityExpiry(v any) (int64, bool) {
	switch val := v.(type) {
	case json.Number:
		n, err := val.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func geminiCachedExpiry(v any) (int64, bool) {
	switch val := v.(type) {
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return 0, false
		}
		return epochToMs(n)
	case string:
		return parseEpochToMs(val)
	default:
		return 0, false
	}
}
