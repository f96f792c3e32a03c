package wire

import (
	"bufio"
	"errors"
	"io"
	"time"

	"github.com/gitGNU/gnu-otpasswd/internal/otpderr"
)

// readAheadSize mirrors the original agent_read's static 300-byte
// buffer: large enough to hold one full frame plus a little slack,
// reused across Recv calls so a short read never has to be re-issued
// from scratch.
const readAheadSize = 300

// deadliner is implemented by *os.File (and other pipe-like types)
// that support a bounded read wait. WaitReady degrades to an
// unbounded-looking (but still goroutine-cancellable) wait when the
// underlying reader doesn't implement it.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Duplex is the byte-duplex connection a FramedChannel rides on: the
// two ends of a pair of pipes across a fork/exec boundary.
type Duplex interface {
	io.Reader
	io.Writer
}

// FramedChannel sends and receives fixed-layout Frames over a Duplex.
// It is not safe for concurrent use: the protocol is strictly
// request/reply, one outstanding request at a time (spec.md §5).
type FramedChannel struct {
	w   io.Writer
	r   *bufio.Reader
	dl  deadliner
	err error
}

// New wraps d as a FramedChannel. If d also implements deadliner (as
// *os.File does), WaitReady uses a real bounded read deadline;
// otherwise it falls back to a best-effort goroutine race.
func New(d Duplex) *FramedChannel {
	fc := &FramedChannel{w: d, r: bufio.NewReaderSize(d, readAheadSize)}
	if dl, ok := d.(deadliner); ok {
		fc.dl = dl
	}
	return fc
}

// Err returns the sticky error that caused this channel to stop being
// usable, or nil if the channel is still healthy.
func (fc *FramedChannel) Err() error {
	return fc.err
}

// Send writes the whole frame in one call. A short write or broken
// pipe is reported as Disconnected, matching agent_write's handling
// of EPIPE.
func (fc *FramedChannel) Send(f *Frame) error {
	if fc.err != nil {
		return fc.err
	}
	buf := f.marshal()
	n, err := fc.w.Write(buf)
	if err != nil || n != len(buf) {
		fc.err = otpderr.New(otpderr.KindDisconnected, "short write or broken pipe")
		return fc.err
	}
	return nil
}

// Recv reads exactly one frame, buffering any surplus for the next
// call. A partial read or EOF is reported as Disconnected. After
// decoding, the frame's ProtocolVersion is checked against the local
// constant; a mismatch is fatal (ProtocolMismatch) and the channel is
// marked unusable.
func (fc *FramedChannel) Recv() (*Frame, error) {
	if fc.err != nil {
		return nil, fc.err
	}

	buf := make([]byte, frameSize)
	if _, err := io.ReadFull(fc.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			fc.err = otpderr.New(otpderr.KindDisconnected, "peer closed connection")
		} else {
			fc.err = otpderr.New(otpderr.KindDisconnected, err.Error())
		}
		return nil, fc.err
	}

	f := &Frame{}
	f.unmarshal(buf)

	if f.ProtocolVersion != ProtocolVersion {
		fc.err = otpderr.New(otpderr.KindProtocolMismatch, "received frame protocol version mismatch")
		return nil, fc.err
	}

	return f, nil
}

// WaitReady performs a bounded blocking wait for the first byte to
// arrive on the input side, without consuming it. It is used solely
// during connection handshake to avoid hanging forever on a dead
// child (spec.md §4.1, §4.7). A timeout of 0 means "use the default
// handshake timeout" (2s), matching the original agent_wait.
func (fc *FramedChannel) WaitReady(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	if fc.dl != nil {
		if err := fc.dl.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return otpderr.New(otpderr.KindInternal, err.Error())
		}
		defer fc.dl.SetReadDeadline(time.Time{})

		_, err := fc.r.Peek(1)
		if err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				return otpderr.New(otpderr.KindTimeout, "no data within handshake timeout")
			}
			return otpderr.New(otpderr.KindDisconnected, err.Error())
		}
		return nil
	}

	// Fallback for readers that can't set a deadline: race a Peek
	// against a timer. The goroutine may outlive this call if it never
	// unblocks, but that's acceptable here since it only ever runs once,
	// during the handshake.
	done := make(chan error, 1)
	go func() {
		_, err := fc.r.Peek(1)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return otpderr.New(otpderr.KindDisconnected, err.Error())
		}
		return nil
	case <-time.After(timeout):
		return otpderr.New(otpderr.KindTimeout, "no data within handshake timeout")
	}
}
