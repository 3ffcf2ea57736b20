package utils

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", Debug, false},
		{"INFO", Info, false},
		{"", Info, false},
		{"warn", Warning, false},
		{"warning", Warning, false},
		{" error ", Error, false},
		{"verbose", Info, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "gate", Warning)

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("refund failed", "user_id", "u1", "dangling")
	logger.Error("store down", "error", "timeout")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[gate] ")
	assert.Contains(t, out, "[WARN] refund failed user_id=u1")
	assert.NotContains(t, out, "dangling")
	assert.Contains(t, out, "[ERROR] store down error=timeout")

	buf.Reset()
	logger.SetLogLevel(Debug)
	logger.Debug("now visible", "n", 1)
	assert.Contains(t, buf.String(), "[DEBUG] now visible n=1")
}

func TestLogger_DefaultLevel(t *testing.T) {
	SetDefaultLogLevel(Error)
	defer SetDefaultLogLevel(Info)

	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "x")
	logger.Warn("suppressed")
	assert.Empty(t, buf.String())
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("draw a login flow")
	assert.Len(t, a, 12)
	assert.Equal(t, a, Fingerprint("draw a login flow"))
	assert.NotEqual(t, a, Fingerprint("draw a login flow "))
	assert.Len(t, HashString(""), 64)
}

func TestRespondWithJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, RespondWithJSON(rec, http.StatusCreated, map[string]int{"credits": 3}))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"credits":3}`, rec.Body.String())
}

func TestRespondWithError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, http.StatusUnauthorized, "invalid token")

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid token", body.Error)
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		UserID string `json:"userId"`
	}

	tests := []struct {
		name    string
		body    string
		max     int64
		wantErr string
	}{
		{"valid", `{"userId":"u1"}`, 0, ""},
		{"empty", ``, 0, "empty"},
		{"malformed", `{"userId":`, 0, "invalid JSON"},
		{"two objects", `{"userId":"a"}{"userId":"b"}`, 0, "single JSON object"},
		{"too large", `{"userId":"` + strings.Repeat("x", 100) + `"}`, 16, "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			var p payload
			err := DecodeJSONBody(rec, req, &p, tt.max)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "u1", p.UserID)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
