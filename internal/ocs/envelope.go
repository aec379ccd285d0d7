// Package ocs decodes OCS raw-message envelopes and renders them as the
// timestamped text lines the legacy log uploader produced.
//
// An envelope is a CloudEvents-style wrapper around one comma-delimited line
// emitted by the operations control system. The stream transform and the
// recovery replay both go through Lines, so a record recovered from the
// failure bucket is byte-identical to one that was ingested normally.
package ocs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"ocssaver/internal/servicetime"
	"ocssaver/internal/types"
)

// Envelope constants.
const (
	SpecVersion = "1.0"
	EventType   = "com.mbta.ocs.raw_message"
)

// EnvelopeData carries the opaque raw line.
type EnvelopeData struct {
	Raw *string `json:"raw" validate:"required"`
}

// Envelope mirrors the wire shape of one event. Fields are pointers so that
// presence can be checked separately from emptiness: an empty string is a
// valid value, a missing key is not. Unknown fields are ignored.
type Envelope struct {
	ID           *string       `json:"id" validate:"required"`
	Source       *string       `json:"source" validate:"required"`
	PartitionKey *string       `json:"partitionkey" validate:"required"`
	SpecVersion  *string       `json:"specversion" validate:"required,eq=1.0"`
	Type         *string       `json:"type" validate:"required,eq=com.mbta.ocs.raw_message"`
	Time         *string       `json:"time" validate:"required"`
	Data         *EnvelopeData `json:"data" validate:"required"`
}

// Event is a validated envelope reduced to the two fields the pipeline uses.
type Event struct {
	Time time.Time // civil time in servicetime.Zone
	Raw  string
}

var envelopeValidator = validator.New(validator.WithRequiredStructEnabled())

// DecodeEnvelope validates one JSON value against the envelope shape and
// resolves its time. It fails with ErrCodeInvalidEnvelope on a shape mismatch
// and ErrCodeInvalidDatetime when the time does not parse.
func DecodeEnvelope(raw json.RawMessage) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, types.NewAppError(types.ErrCodeInvalidEnvelope, "envelope is not a JSON object of the expected shape", err)
	}

	if err := envelopeValidator.Struct(env); err != nil {
		return Event{}, types.NewAppError(types.ErrCodeInvalidEnvelope, describeValidation(err), err)
	}

	local, err := servicetime.Local(*env.Time)
	if err != nil {
		return Event{}, err
	}

	return Event{Time: local, Raw: *env.Data.Raw}, nil
}

// describeValidation lists the failing fields as "field(tag)" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
	}
	return "envelope field check failed: " + strings.Join(parts, ", ")
}

// Normalize turns a decoded payload into a sequence of envelope candidates:
// null or empty becomes an empty sequence, an array is returned element by
// element, and any other value becomes a one-element sequence.
func Normalize(payload []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return nil, types.NewAppError(types.ErrCodeInvalidEnvelope, "payload is not valid JSON", err)
		}
		return items, nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, types.NewAppError(types.ErrCodeInvalidEnvelope, "payload is not valid JSON", nil)
	}
	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}
