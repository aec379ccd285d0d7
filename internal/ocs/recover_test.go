package ocs

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocssaver/internal/types"
)

// failedAttemptLine is a line captured from the processing-failed prefix of
// the delivery stream.
const failedAttemptLine = `{"attemptsMade":4,"arrivalTimestamp":1654710150135,"errorCode":"Lambda.FunctionTimedOut","errorMessage":"The Lambda function invocation timed out. Increase the Timeout setting in the Lambda function.","attemptEndingTimestamp":1654710238263,"rawData":"eyJkYXRhIjp7InJhdyI6IjE2Njc0NCxSR1BTLDEzOjQyOjI5LEcsVTE1LTE0MS02MzEsMzY3NSw0Mi4zNDgxODgzMzMzMzMzLDcxLjE0MDQ5ODMzMzMzMzMsMC4wMCwxOC45NCJ9LCJpZCI6IlpKd3Y3WUF0M21PS3BIaGZyUWZIQ2hHWmFpMD0iLCJwYXJ0aXRpb25rZXkiOiJ7MTAuMTA4LjQ2LjE5ODo4MDgxIC0+IDEwLjE5OC4wLjM0OjQzNDE0fSIsInNvdXJjZSI6Im9wc3RlY2gzLm1idGEuY29tL3RyaWtlIiwic3BlY3ZlcnNpb24iOiIxLjAiLCJ0aW1lIjoiMjAyMi0wNi0wOFQxNzo0MjozMC4wOTIwMDBaIiwidHlwZSI6ImNvbS5tYnRhLm9jcy5yYXdfbWVzc2FnZSJ9","lambdaArn":"arn"}`

func TestRecoverLine_FailedAttempt(t *testing.T) {
	got, err := RecoverLine(failedAttemptLine)
	require.NoError(t, err)
	assert.Equal(t,
		"06/08/22,13:42:30,166744,RGPS,13:42:29,G,U15-141-631,3675,42.3481883333333,71.1404983333333,0.00,18.94\n",
		got)
}

func TestRecoverLine_CRLF(t *testing.T) {
	got, err := RecoverLine(failedAttemptLine + "\r\n")
	require.NoError(t, err)
	assert.Equal(t, 1, countNewlines(got))
}

func TestRecoverLine_Batch(t *testing.T) {
	payload := mustJSON(t, []any{
		envelopeFields("2022-06-08T17:42:30Z", "a"),
		envelopeFields("2022-06-08T17:42:35Z", "b"),
	})
	line := string(mustJSON(t, map[string]any{
		"attemptsMade": 1,
		"rawData":      base64.StdEncoding.EncodeToString(payload),
	}))

	got, err := RecoverLine(line)
	require.NoError(t, err)
	assert.Equal(t, "06/08/22,13:42:30,a\n06/08/22,13:42:30,b\n", got)
}

func TestRecoverLine_Blank(t *testing.T) {
	for _, in := range []string{"", "   ", "\n", "\r\n"} {
		got, err := RecoverLine(in)
		require.NoError(t, err)
		assert.Equal(t, "", got)
	}
}

func TestRecoverLine_Malformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"missing rawData", `{"attemptsMade":4,"errorCode":"Lambda.FunctionTimedOut","lambdaArn":"arn"}`},
		{"invalid rawData", `{"attemptsMade":4,"rawData":"not base64 data","lambdaArn":"arn"}`},
		{"not json", `attemptsMade=4`},
		{"rawData not an envelope", `{"rawData":"` + base64.StdEncoding.EncodeToString([]byte(`{"hello":"world"}`)) + `"}`},
		{"rawData null payload", `{"rawData":"` + base64.StdEncoding.EncodeToString([]byte(`null`)) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RecoverLine(tt.line)
			require.Error(t, err)
			assert.Equal(t, types.ErrCodeBadRecoveryLine, types.CodeOf(err))
		})
	}
}

func countNewlines(s string) int {
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}
