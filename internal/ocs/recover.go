package ocs

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"ocssaver/internal/types"
)

// FailureWrapper is one line of an object written by the delivery stream's
// processing-failed path. Only RawData is needed for replay; the rest is kept
// for log context.
type FailureWrapper struct {
	RawData                *string `json:"rawData"`
	AttemptsMade           int     `json:"attemptsMade"`
	ArrivalTimestamp       int64   `json:"arrivalTimestamp"`
	ErrorCode              string  `json:"errorCode"`
	ErrorMessage           string  `json:"errorMessage"`
	AttemptEndingTimestamp int64   `json:"attemptEndingTimestamp"`
	LambdaArn              string  `json:"lambdaArn"`
}

// RecoverLine re-derives the text a failed record would have produced had the
// transform succeeded. Blank input yields "". Otherwise the result is one or
// more timestamped lines, each terminated by "\n".
//
// Unlike the stream transform, errors are not swallowed: any malformed
// wrapper, payload or envelope fails with ErrCodeBadRecoveryLine wrapping the
// underlying cause.
func RecoverLine(line string) (string, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return "", nil
	}

	var wrapper FailureWrapper
	if err := json.Unmarshal([]byte(line), &wrapper); err != nil {
		return "", badLine("failure wrapper is not valid JSON", err)
	}
	if wrapper.RawData == nil {
		return "", badLine("failure wrapper has no rawData", nil)
	}

	payload, err := base64.StdEncoding.DecodeString(*wrapper.RawData)
	if err != nil {
		return "", badLine("rawData is not base64", err)
	}

	batch, err := RenderPayload(payload)
	if err != nil {
		return "", badLine("rawData does not hold a valid envelope batch", err)
	}

	return batch.Text() + "\n", nil
}

func badLine(msg string, err error) error {
	return types.NewAppError(types.ErrCodeBadRecoveryLine, msg, err)
}
