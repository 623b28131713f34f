package p2p

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameRoundTrip(t *testing.T) {
	assert := assert.New(t)

	env, err := NewEnvelope(TypePing, "node-a", PingBody{TS: 42})
	assert.NoError(err)

	var buf bytes.Buffer
	assert.NoError(WriteEnvelope(&buf, env))

	got, err := ReadEnvelope(&buf)
	assert.NoError(err)
	assert.Equal(env.Type, got.Type)
	assert.Equal(env.From, got.From)
	assert.Equal(env.ID, got.ID)
}

func TestReadEnvelopeRejectsUnknownType(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	assert.NoError(WriteFrame(&buf, []byte(`{"type":"NOT_A_REAL_TYPE","id":"x","from":"y","body":{}}`)))

	_, err := ReadEnvelope(&buf)
	assert.Error(err)
}

func TestReadFrameRejectsOversize(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	var lenBuf [4]byte
	lenBuf[0] = 0xFF // absurdly large length prefix
	buf.Write(lenBuf[:])

	_, err := ReadFrame(&buf)
	assert.Equal(ErrFrameTooLarge, err)
}
