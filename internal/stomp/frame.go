package stomp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-stomp/stomp/v3/frame"
)

// Client and server commands used by the chat transport.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
)

const readBufferSize = 4096

var ErrMalformedFrame = errors.New("stomp: malformed frame")

type Frame = frame.Frame

// NewFrame builds a frame from alternating header keys and values.
func NewFrame(command string, kv ...string) *Frame {
	return frame.New(command, kv...)
}

// Encode serializes f for a single websocket message. Frames with a body
// carry a content-length so the body may contain NUL bytes.
func Encode(f *Frame) []byte {
	if f.Header == nil {
		f.Header = frame.NewHeader()
	}
	if len(f.Body) > 0 {
		f.Header.Set("content-length", strconv.Itoa(len(f.Body)))
	}
	var buf bytes.Buffer
	// writes into a bytes.Buffer cannot fail
	_ = frame.NewWriter(&buf).Write(f)
	return buf.Bytes()
}

// ReadFrames decodes every frame in one websocket message. Heart-beat EOLs
// yield no frame. Frames decoded before an error are returned with it.
func ReadFrames(data []byte) ([]*Frame, error) {
	src := bytes.NewReader(data)
	// frame.NewReaderSize reuses buf, which lets the loop see what is left
	buf := bufio.NewReaderSize(src, readBufferSize)
	r := frame.NewReaderSize(buf, buf.Size())

	var frames []*Frame
	for buf.Buffered()+src.Len() > 0 {
		f, err := r.Read()
		if err != nil {
			return frames, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, nil
}
