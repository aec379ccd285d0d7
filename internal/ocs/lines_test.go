package ocs

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocssaver/internal/types"
)

func TestRender_SingleEnvelope(t *testing.T) {
	items := []json.RawMessage{
		mustJSON(t, envelopeFields("2022-06-08T17:42:30.092000Z", "166744,RGPS,13:42:29")),
	}

	batch, err := Render(items)
	require.NoError(t, err)
	assert.Equal(t, "2022-06-08", batch.ServiceDay)
	assert.Equal(t, "06/08/22,13:42:30,166744,RGPS,13:42:29", batch.Text())
}

func TestRender_BatchSharesFirstTimestamp(t *testing.T) {
	items := []json.RawMessage{
		// 01:30 EST on Jan 2 belongs to the Jan 1 service day.
		mustJSON(t, envelopeFields("2022-01-02T06:30:00Z", "first")),
		mustJSON(t, envelopeFields("2022-01-02T09:00:00Z", "second")),
	}

	batch, err := Render(items)
	require.NoError(t, err)
	assert.Equal(t, "2022-01-01", batch.ServiceDay)
	assert.Equal(t, []string{
		"01/02/22,01:30:00,first",
		"01/02/22,01:30:00,second",
	}, batch.Lines)
	assert.Equal(t, "01/02/22,01:30:00,first\n01/02/22,01:30:00,second", batch.Text())
}

func TestRender_LaterElementsStillValidated(t *testing.T) {
	bad := envelopeFields("2022-01-02T09:00:00Z", "second")
	delete(bad, "source")

	_, err := Render([]json.RawMessage{
		mustJSON(t, envelopeFields("2022-01-02T06:30:00Z", "first")),
		mustJSON(t, bad),
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInvalidEnvelope, types.CodeOf(err))
}

func TestRender_LaterElementTimeMustParse(t *testing.T) {
	_, err := Render([]json.RawMessage{
		mustJSON(t, envelopeFields("2022-01-02T06:30:00Z", "first")),
		mustJSON(t, envelopeFields("garbage", "second")),
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInvalidDatetime, types.CodeOf(err))
}

func TestRender_Empty(t *testing.T) {
	_, err := Render(nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInvalidEnvelope, types.CodeOf(err))
}

func TestRenderBase64(t *testing.T) {
	payload := mustJSON(t, []any{
		envelopeFields("2022-06-08T17:42:30Z", "a"),
		envelopeFields("2022-06-08T17:42:31Z", "b"),
	})

	batch, err := RenderBase64(base64.StdEncoding.EncodeToString(payload))
	require.NoError(t, err)
	assert.Equal(t, "06/08/22,13:42:30,a\n06/08/22,13:42:30,b", batch.Text())

	_, err = RenderBase64("%%% not base64 %%%")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInvalidEnvelope, types.CodeOf(err))

	_, err = RenderBase64(base64.StdEncoding.EncodeToString([]byte("The fish was delish")))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInvalidEnvelope, types.CodeOf(err))
}
