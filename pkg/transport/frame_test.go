package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, ExecRequestFrame, []byte(`{"cmd":["echo","hi"]}`)))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, ExecRequestFrame, frame.Type)
	assert.Equal(t, `{"cmd":["echo","hi"]}`, string(frame.Payload))
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, PTYExitFrame, nil))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, PTYExitFrame, frame.Type)
	assert.Empty(t, frame.Payload)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, ExecOutputFrame, make([]byte, maxFrameLen+1))
	assert.Error(t, err)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, ExecOutputFrame, nil))
	// Corrupt the length field to claim an oversized payload.
	raw := buf.Bytes()
	raw[1], raw[2], raw[3], raw[4] = 0xFF, 0xFF, 0xFF, 0xFF

	_, err := ReadFrame(bytes.NewReader(raw))
	assert.Error(t, err)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, PTYDataFrame, []byte("first")))
	require.NoError(t, WriteFrame(&buf, PTYDataFrame, []byte("second")))

	f1, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "first", string(f1.Payload))

	f2, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "second", string(f2.Payload))
}
