package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestDepositCommandPostsAndPrints(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/deposit", r.URL.Path)
		require.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"asset":"0xa","user":"0xb","deposited":"10","borrowed":"0","isCollateral":true,"lastUpdateTime":1}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{"deposit", "-api", srv.URL, "-token", "abc", "-user", "0xb", "-asset", "0xa", "-amount", "10"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Equal(t, "10", got["amount"])
	require.Contains(t, stdout.String(), `"deposited": "10"`)
}

func TestCommandReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"lending engine: asset price unavailable"}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := run([]string{"health", "-api", srv.URL, "-user", "0xb"}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "503")
	require.Empty(t, stdout.String())
}

func TestMissingRequiredFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"borrow", "-user", "0xb"}, &stdout, &stderr)
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "is required")
}

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 2, run([]string{"mint"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "Usage: lendctl")
}

func TestTokenCommandSignsClaims(t *testing.T) {
	const key = "0123456789abcdef0123456789abcdef"
	prev := signingSecret
	signingSecret = func() (string, error) { return key, nil }
	defer func() { signingSecret = prev }()

	var stdout, stderr bytes.Buffer
	code := run([]string{"token", "-subject", "0xb", "-scopes", "lending:admin, extra"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	raw := strings.TrimSpace(stdout.String())
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return []byte(key), nil })
	require.NoError(t, err)
	sub, err := claims.GetSubject()
	require.NoError(t, err)
	require.Equal(t, "0xb", sub)
}
