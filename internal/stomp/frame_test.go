package stomp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_SendFrame(t *testing.T) {
	f := NewFrame(CmdSend, "destination", "/app/chat/42", "content-type", "text/plain")
	f.Body = []byte("hello")

	got := string(Encode(f))
	assert.True(t, strings.HasPrefix(got, "SEND\n"))
	assert.Contains(t, got, "destination:/app/chat/42\n")
	assert.Contains(t, got, "content-type:text/plain\n")
	assert.Contains(t, got, "content-length:5\n")
	assert.Contains(t, got, "\n\nhello\x00")
}

func TestEncode_EmptyBodyHasNoContentLength(t *testing.T) {
	got := string(Encode(NewFrame(CmdDisconnect)))
	assert.Equal(t, "DISCONNECT\n\n\x00", got)
}

func TestEncode_NilHeader(t *testing.T) {
	frames, err := ReadFrames(Encode(&Frame{Command: CmdSend, Body: []byte("x")}))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "1", frames[0].Header.Get("content-length"))
}

func TestReadFrames_RoundTripWithEscapes(t *testing.T) {
	f := NewFrame(CmdMessage, "subscription", "sub-1", "weird:key", "line1\nline2")
	f.Body = []byte(`{"id":"x"}`)

	encoded := Encode(f)
	assert.Contains(t, string(encoded), "weird\\ckey:line1\\nline2\n")

	frames, err := ReadFrames(encoded)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, CmdMessage, frames[0].Command)
	assert.Equal(t, "sub-1", frames[0].Header.Get("subscription"))
	assert.Equal(t, "line1\nline2", frames[0].Header.Get("weird:key"))
	assert.Equal(t, `{"id":"x"}`, string(frames[0].Body))
}

func TestReadFrames_HeartbeatsAndMultipleFrames(t *testing.T) {
	data := []byte("\n\r\nRECEIPT\nreceipt-id:1\n\n\x00\nMESSAGE\nsubscription:s\n\nbody\x00\n")

	frames, err := ReadFrames(data)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, CmdReceipt, frames[0].Command)
	assert.Equal(t, "1", frames[0].Header.Get("receipt-id"))
	assert.Empty(t, frames[0].Body)
	assert.Equal(t, "body", string(frames[1].Body))

	frames, err = ReadFrames([]byte("\n"))
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = ReadFrames(nil)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestReadFrames_ContentLengthAllowsNUL(t *testing.T) {
	data := []byte("MESSAGE\ncontent-length:3\n\na\x00b\x00")

	frames, err := ReadFrames(data)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("a\x00b"), frames[0].Body)
}

func TestReadFrames_CRLFAndRepeatedHeaders(t *testing.T) {
	data := []byte("MESSAGE\r\nfoo:first\r\nfoo:second\r\n\r\nx\x00")

	frames, err := ReadFrames(data)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "first", frames[0].Header.Get("foo"))
}

func TestReadFrames_LargeMessage(t *testing.T) {
	var data []byte
	for i := 0; i < 300; i++ {
		f := NewFrame(CmdMessage, "subscription", "s")
		f.Body = []byte(`{"content":"a reasonably long body to overflow the read buffer"}`)
		data = append(data, Encode(f)...)
	}

	frames, err := ReadFrames(data)
	require.NoError(t, err)
	assert.Len(t, frames, 300)
}

func TestReadFrames_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "no header terminator", data: "MESSAGE\nfoo:bar"},
		{name: "header without colon", data: "MESSAGE\nfoobar\n\n\x00"},
		{name: "missing NUL", data: "MESSAGE\n\nbody"},
		{name: "bad content-length", data: "MESSAGE\ncontent-length:10\n\nabc\x00"},
		{name: "unknown command", data: "HELLO\n\n\x00"},
		{name: "trailing partial frame", data: "RECEIPT\nreceipt-id:1\n\n\x00MESSAGE\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrames([]byte(tt.data))
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}
