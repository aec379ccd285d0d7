package ocs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocssaver/internal/types"
)

// envelopeFields returns a valid envelope as a mutable map.
func envelopeFields(time, raw string) map[string]any {
	return map[string]any{
		"data":         map[string]any{"raw": raw},
		"id":           "ZJwv7YAt3mOKpHhfrQfHChGZai0=",
		"partitionkey": "{10.108.46.198:8081 -> 10.198.0.34:43414}",
		"source":       "opstech3.mbta.com/trike",
		"specversion":  "1.0",
		"time":         time,
		"type":         "com.mbta.ocs.raw_message",
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDecodeEnvelope_Valid(t *testing.T) {
	raw := mustJSON(t, envelopeFields("2022-06-08T17:42:30.092000Z", "166744,RGPS,13:42:29"))

	ev, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "166744,RGPS,13:42:29", ev.Raw)
	assert.Equal(t, 13, ev.Time.Hour())
	assert.Equal(t, "America/New_York", ev.Time.Location().String())
}

func TestDecodeEnvelope_IgnoresUnknownFields(t *testing.T) {
	fields := envelopeFields("2022-06-08T17:42:30Z", "x")
	fields["datacontenttype"] = "text/plain"
	fields["extra"] = map[string]any{"nested": true}

	_, err := DecodeEnvelope(mustJSON(t, fields))
	assert.NoError(t, err)
}

func TestDecodeEnvelope_EmptyStringsArePresent(t *testing.T) {
	fields := envelopeFields("2022-06-08T17:42:30Z", "")
	fields["id"] = ""

	ev, err := DecodeEnvelope(mustJSON(t, fields))
	require.NoError(t, err)
	assert.Equal(t, "", ev.Raw)
}

func TestDecodeEnvelope_ShapeViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing id", func(m map[string]any) { delete(m, "id") }},
		{"missing source", func(m map[string]any) { delete(m, "source") }},
		{"missing partitionkey", func(m map[string]any) { delete(m, "partitionkey") }},
		{"missing time", func(m map[string]any) { delete(m, "time") }},
		{"missing data", func(m map[string]any) { delete(m, "data") }},
		{"missing data.raw", func(m map[string]any) { m["data"] = map[string]any{} }},
		{"null data", func(m map[string]any) { m["data"] = nil }},
		{"wrong specversion", func(m map[string]any) { m["specversion"] = "0.3" }},
		{"wrong type", func(m map[string]any) { m["type"] = "com.mbta.ocs.other" }},
		{"numeric id", func(m map[string]any) { m["id"] = 42 }},
		{"numeric raw", func(m map[string]any) { m["data"] = map[string]any{"raw": 1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := envelopeFields("2022-06-08T17:42:30Z", "x")
			tt.mutate(fields)

			_, err := DecodeEnvelope(mustJSON(t, fields))
			require.Error(t, err)
			assert.Equal(t, types.ErrCodeInvalidEnvelope, types.CodeOf(err))
		})
	}
}

func TestDecodeEnvelope_NonObjects(t *testing.T) {
	for _, in := range []string{`null`, `42`, `"text"`, `[1,2]`, `{`} {
		t.Run(in, func(t *testing.T) {
			_, err := DecodeEnvelope(json.RawMessage(in))
			require.Error(t, err)
			assert.Equal(t, types.ErrCodeInvalidEnvelope, types.CodeOf(err))
		})
	}
}

func TestDecodeEnvelope_BadTime(t *testing.T) {
	_, err := DecodeEnvelope(mustJSON(t, envelopeFields("yesterday", "x")))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInvalidDatetime, types.CodeOf(err))
	assert.Contains(t, err.Error(), "yesterday")
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int
		wantErr bool
	}{
		{"null", `null`, 0, false},
		{"empty", ``, 0, false},
		{"whitespace", "  \n", 0, false},
		{"object", `{"a":1}`, 1, false},
		{"array", `[{"a":1},{"b":2}]`, 2, false},
		{"empty array", `[]`, 0, false},
		{"scalar", `"x"`, 1, false},
		{"invalid", `{"a":`, 0, true},
		{"invalid array", `[1,`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := Normalize([]byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.ErrCodeInvalidEnvelope, types.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, items, tt.want)
		})
	}
}
