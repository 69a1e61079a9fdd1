package runtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"github.com/dop251/goja"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ContextGlobal is the global the capability surface is installed under.
	ContextGlobal = "__openusage_ctx"

	maxResponseBytes = 8 << 20
)

// ErrKeychainItemNotFound is returned when no keychain item exists for a service.
var ErrKeychainItemNotFound = errors.New("keychain item not found")

// Keychain reads generic passwords from the OS credential store.
type Keychain interface {
	ReadGenericPassword(service string) (string, error)
}

// SystemKeychain reads from the platform keyring.
type SystemKeychain struct{}

// ReadGenericPassword returns the first item stored under service.
func (SystemKeychain) ReadGenericPassword(service string) (string, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
	})
	if err != nil {
		return "", fmt.Errorf("failed to open keyring: %w", err)
	}

	keys, err := ring.Keys()
	if err != nil {
		return "", fmt.Errorf("failed to list keyring items: %w", err)
	}
	if len(keys) == 0 {
		return "", ErrKeychainItemNotFound
	}

	item, err := ring.Get(keys[0])
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrKeychainItemNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read keyring item: %w", err)
	}
	return string(item.Data), nil
}

// host is the capability surface for a single probe.
type host struct {
	ctx           context.Context
	vm            *goja.Runtime
	pluginID      string
	appDataDir    string
	pluginDataDir string
	appVersion    string
	overlay       *Overlay
	client        *http.Client
	keychain      Keychain
	httpTimeout   time.Duration
	logger        *slog.Logger
}

// install builds the context object and exposes it as a global.
func (h *host) install() error {
	if h.appDataDir != "" {
		h.pluginDataDir = filepath.Join(h.appDataDir, "plugins_data", h.pluginID)
		if err := os.MkdirAll(h.pluginDataDir, 0755); err != nil {
			return fmt.Errorf("failed to create plugin data dir: %w", err)
		}
	}

	vm := h.vm
	ctxObj := vm.NewObject()

	app := vm.NewObject()
	if err := setAll(app, map[string]any{
		"version":       h.appVersion,
		"platform":      goruntime.GOOS,
		"appDataDir":    h.appDataDir,
		"pluginDataDir": h.pluginDataDir,
	}); err != nil {
		return err
	}

	fs := vm.NewObject()
	if err := setAll(fs, map[string]any{
		"exists":    h.fsExists,
		"readText":  h.fsReadText,
		"writeText": h.fsWriteText,
	}); err != nil {
		return err
	}

	env := vm.NewObject()
	if err := env.Set("get", h.envGet); err != nil {
		return err
	}

	httpObj := vm.NewObject()
	if err := httpObj.Set("request", h.httpRequest); err != nil {
		return err
	}

	keychain := vm.NewObject()
	if err := keychain.Set("readGenericPassword", h.keychainRead); err != nil {
		return err
	}

	log := vm.NewObject()
	pluginLogger := h.logger.With("plugin", h.pluginID)
	if err := setAll(log, map[string]any{
		"info":  h.logFunc(pluginLogger.Info),
		"warn":  h.logFunc(pluginLogger.Warn),
		"error": h.logFunc(pluginLogger.Error),
	}); err != nil {
		return err
	}

	hostObj := vm.NewObject()
	if err := setAll(hostObj, map[string]any{
		"fs":       fs,
		"env":      env,
		"http":     httpObj,
		"keychain": keychain,
		"log":      log,
	}); err != nil {
		return err
	}

	util := vm.NewObject()
	if err := setAll(util, map[string]any{
		"base64Encode":     h.base64Encode,
		"base64Decode":     h.base64Decode,
		"decodeJwtPayload": h.decodeJwtPayload,
		"parseDateMs":      h.parseDateMs,
	}); err != nil {
		return err
	}

	if err := setAll(ctxObj, map[string]any{
		"nowIso": time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		"app":    app,
		"host":   hostObj,
		"util":   util,
	}); err != nil {
		return err
	}

	return vm.Set(ContextGlobal, ctxObj)
}

func setAll(obj *goja.Object, values map[string]any) error {
	for name, value := range values {
		if err := obj.Set(name, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
	}
	return nil
}

// throw raises err as a JavaScript exception in the sandbox.
func (h *host) throw(err error) {
	panic(h.vm.NewGoError(err))
}

func (h *host) stringArg(call goja.FunctionCall, idx int, name string) string {
	arg := call.Argument(idx)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		h.throw(fmt.Errorf("%s is required", name))
	}
	return arg.String()
}

// resolvePath expands a leading ~ and cleans the path.
func resolvePath(path string) string {
	return filepath.Clean(ExpandHome(path))
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func (h *host) fsExists(call goja.FunctionCall) goja.Value {
	path := resolvePath(h.stringArg(call, 0, "path"))
	if h.overlay != nil && h.overlay.Has(path) {
		return h.vm.ToValue(true)
	}
	_, err := os.Stat(path)
	return h.vm.ToValue(err == nil)
}

func (h *host) fsReadText(call goja.FunctionCall) goja.Value {
	path := resolvePath(h.stringArg(call, 0, "path"))
	if h.overlay != nil {
		if content, ok := h.overlay.Get(path); ok {
			return h.vm.ToValue(content)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		h.throw(fmt.Errorf("failed to read %s: %w", path, err))
	}
	return h.vm.ToValue(string(data))
}

func (h *host) fsWriteText(call goja.FunctionCall) goja.Value {
	path := resolvePath(h.stringArg(call, 0, "path"))
	text := h.stringArg(call, 1, "text")

	if h.overlay != nil && h.overlay.Has(path) {
		h.overlay.Set(path, text)
		return goja.Undefined()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		h.throw(fmt.Errorf("failed to create directory for %s: %w", path, err))
	}
	if err := os.WriteFile(path, []byte(text), 0600); err != nil {
		h.throw(fmt.Errorf("failed to write %s: %w", path, err))
	}
	return goja.Undefined()
}

func (h *host) envGet(call goja.FunctionCall) goja.Value {
	name := h.stringArg(call, 0, "name")
	value, ok := os.LookupEnv(name)
	if !ok {
		return goja.Null()
	}
	return h.vm.ToValue(value)
}

func (h *host) httpRequest(call goja.FunctionCall) goja.Value {
	req, ok := call.Argument(0).Export().(map[string]any)
	if !ok {
		h.throw(errors.New("http request must be an object"))
	}

	url, _ := req["url"].(string)
	if strings.TrimSpace(url) == "" {
		h.throw(errors.New("http request url is required"))
	}
	method, _ := req["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	timeout := h.httpTimeout
	if ms, ok := toNumber(req["timeoutMs"]); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(h.ctx, timeout)
	defer cancel()

	var body io.Reader
	if text, ok := req["bodyText"].(string); ok {
		body = strings.NewReader(text)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, strings.ToUpper(method), url, body)
	if err != nil {
		h.throw(fmt.Errorf("invalid http request: %w", err))
	}
	if headers, ok := req["headers"].(map[string]any); ok {
		for name, value := range headers {
			if value == nil {
				continue
			}
			httpReq.Header.Set(name, fmt.Sprint(value))
		}
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		h.throw(fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		h.throw(fmt.Errorf("failed to read http response: %w", err))
	}

	headers := make(map[string]any, len(resp.Header))
	for name, values := range resp.Header {
		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}

	return h.vm.ToValue(map[string]any{
		"status":   resp.StatusCode,
		"headers":  headers,
		"bodyText": string(respBody),
	})
}

func (h *host) keychainRead(call goja.FunctionCall) goja.Value {
	service := h.stringArg(call, 0, "service")
	if h.keychain == nil {
		h.throw(ErrKeychainItemNotFound)
	}
	value, err := h.keychain.ReadGenericPassword(service)
	if err != nil {
		h.throw(err)
	}
	return h.vm.ToValue(value)
}

func (h *host) logFunc(logFn func(string, ...any)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		logFn(call.Argument(0).String())
		return goja.Undefined()
	}
}

func (h *host) base64Encode(call goja.FunctionCall) goja.Value {
	return h.vm.ToValue(base64.StdEncoding.EncodeToString([]byte(h.stringArg(call, 0, "text"))))
}

func (h *host) base64Decode(call goja.FunctionCall) goja.Value {
	decoded, err := decodeBase64(h.stringArg(call, 0, "text"))
	if err != nil {
		h.throw(err)
	}
	return h.vm.ToValue(string(decoded))
}

// decodeBase64 accepts standard and URL alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(s); err == nil {
			return decoded, nil
		}
	}
	return nil, errors.New("invalid base64 input")
}

func (h *host) decodeJwtPayload(call goja.FunctionCall) goja.Value {
	claims, ok := DecodeJWTPayload(call.Argument(0).String())
	if !ok {
		return goja.Null()
	}
	return h.vm.ToValue(claims)
}

// DecodeJWTPayload returns the claims of token without verifying its signature.
func DecodeJWTPayload(token string) (map[string]any, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return nil, false
	}
	return map[string]any(claims), true
}

func (h *host) parseDateMs(call goja.FunctionCall) goja.Value {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(call.Argument(0).String()))
	if err != nil {
		return goja.Null()
	}
	return h.vm.ToValue(t.UnixMilli())
}
