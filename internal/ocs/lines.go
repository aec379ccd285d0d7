package ocs

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"ocssaver/internal/servicetime"
	"ocssaver/internal/types"
)

// Batch is the rendered form of one envelope batch.
type Batch struct {
	// ServiceDay is the partition key, taken from the first envelope.
	ServiceDay string
	// Lines holds one "<timestamp>,<raw>" line per envelope, without
	// newline terminators.
	Lines []string
}

// Text joins the lines with "\n" and no trailing newline.
func (b Batch) Text() string {
	return strings.Join(b.Lines, "\n")
}

// Render validates every envelope in items and renders it as a timestamped
// line.
//
// The whole batch shares one timestamp and one service day, both derived from
// the first envelope. Producers batch events that were emitted together, so
// later per-element times are not consulted; this assumption is inherited
// from the upstream data shape and is not checked here.
func Render(items []json.RawMessage) (Batch, error) {
	if len(items) == 0 {
		return Batch{}, types.NewAppError(types.ErrCodeInvalidEnvelope, "batch contains no envelopes", nil)
	}

	first, err := DecodeEnvelope(items[0])
	if err != nil {
		return Batch{}, err
	}
	stamp := servicetime.Timestamp(first.Time)

	lines := make([]string, 0, len(items))
	lines = append(lines, stamp+","+first.Raw)
	for _, item := range items[1:] {
		ev, err := DecodeEnvelope(item)
		if err != nil {
			return Batch{}, err
		}
		lines = append(lines, stamp+","+ev.Raw)
	}

	return Batch{
		ServiceDay: servicetime.Day(first.Time),
		Lines:      lines,
	}, nil
}

// RenderPayload decodes a JSON payload (single envelope, array, or null) and
// renders it.
func RenderPayload(payload []byte) (Batch, error) {
	items, err := Normalize(payload)
	if err != nil {
		return Batch{}, err
	}
	return Render(items)
}

// RenderBase64 decodes a standard base64 record payload and renders it.
func RenderBase64(data string) (Batch, error) {
	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Batch{}, types.NewAppError(types.ErrCodeInvalidEnvelope, "record data is not base64", err)
	}
	return RenderPayload(payload)
}
