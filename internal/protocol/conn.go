package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Version is the frame format version written in every frame header.
const Version byte = 1

const (
	headerSize = 6
	// MaxFrameSize bounds a single frame body.
	MaxFrameSize = 64 << 20
	// BlobChunkSize is the largest chunk written per blob frame.
	BlobChunkSize = 32 << 10

	abortByte byte = 0x00
)

// Frame kinds.
const (
	kindCommand byte = iota + 1
	kindObject
	kindStatus
	kindBlob
)

var (
	// ErrAborted is returned when the peer sent the abort sentinel.
	ErrAborted = errors.New("peer aborted the session")
	// ErrUnsupportedVersion is returned for frames of an unknown version.
	ErrUnsupportedVersion = errors.New("unsupported frame version")
	// ErrUnexpectedKind is returned when a frame of another kind was expected.
	ErrUnexpectedKind = errors.New("unexpected frame kind")
	// ErrFrameTooLarge is returned for frames over MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrDecode wraps payload decoding failures. The stream stays in sync.
	ErrDecode = errors.New("payload decode failed")
	// ErrNoPayload is returned for commands that carry no object.
	ErrNoPayload = errors.New("command carries no payload")
)

// Conn reads and writes frames on a byte stream. Writes are serialized and
// flushed after each logical message, so a Conn may be written from several
// goroutines. Reads must come from a single goroutine.
type Conn struct {
	r *bufio.Reader

	mu sync.Mutex
	w  *bufio.Writer
}

// NewConn wraps rw.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		r: bufio.NewReader(rw),
		w: bufio.NewWriter(rw),
	}
}

func (c *Conn) writeFrame(kind byte, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	var header [headerSize]byte
	header[0] = Version
	header[1] = kind
	binary.BigEndian.PutUint32(header[2:], uint32(len(body))) //nolint:gosec // bounded above

	if _, err := c.w.Write(header[:]); err != nil {
		return err
	}

	_, err := c.w.Write(body)

	return err
}

func (c *Conn) readFrame() (kind byte, body []byte, err error) {
	version, err := c.r.ReadByte()
	if err != nil {
		return 0, nil, err
	}

	if version == abortByte {
		return 0, nil, ErrAborted
	}

	if version != Version {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	var rest [headerSize - 1]byte
	if _, err := io.ReadFull(c.r, rest[:]); err != nil {
		return 0, nil, err
	}

	size := binary.BigEndian.Uint32(rest[1:])
	if size > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	body = make([]byte, size)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return 0, nil, err
	}

	return rest[0], body, nil
}

func (c *Conn) expect(want byte) ([]byte, error) {
	kind, body, err := c.readFrame()
	if err != nil {
		return nil, err
	}

	if kind != want {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedKind, kind, want)
	}

	return body, nil
}

// locked runs fn under the write lock and flushes afterwards.
func (c *Conn) locked(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := fn(); err != nil {
		return err
	}

	return c.w.Flush()
}

// WriteCommand writes a bare command.
func (c *Conn) WriteCommand(cmd Command) error {
	return c.locked(func() error {
		return c.writeFrame(kindCommand, []byte{byte(cmd)})
	})
}

// WriteObject writes v as an object frame.
func (c *Conn) WriteObject(v any) error {
	body, err := encodeObject(v)
	if err != nil {
		return fmt.Errorf("encoding object: %w", err)
	}

	return c.locked(func() error {
		return c.writeFrame(kindObject, body)
	})
}

// WriteMessage writes cmd followed by v as one uninterrupted message.
func (c *Conn) WriteMessage(cmd Command, v any) error {
	body, err := encodeObject(v)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", cmd, err)
	}

	return c.locked(func() error {
		if err := c.writeFrame(kindCommand, []byte{byte(cmd)}); err != nil {
			return err
		}

		return c.writeFrame(kindObject, body)
	})
}

// WriteStatus writes an integer status code.
func (c *Conn) WriteStatus(code int32) error {
	var body [4]byte
	binary.BigEndian.PutUint32(body[:], uint32(code)) //nolint:gosec // sign preserved on read

	return c.locked(func() error {
		return c.writeFrame(kindStatus, body[:])
	})
}

// WriteBlob streams r as a sequence of blob frames terminated by an empty
// one, returning the number of payload bytes written.
func (c *Conn) WriteBlob(r io.Reader) (int64, error) {
	var total int64

	err := c.locked(func() error {
		buf := make([]byte, BlobChunkSize)

		for {
			n, err := r.Read(buf)
			if n > 0 {
				if werr := c.writeFrame(kindBlob, buf[:n]); werr != nil {
					return werr
				}

				total += int64(n)
			}

			if errors.Is(err, io.EOF) {
				return c.writeFrame(kindBlob, nil)
			}

			if err != nil {
				return fmt.Errorf("reading blob source: %w", err)
			}
		}
	})

	return total, err
}

// WriteAbort writes the abort sentinel. Errors are returned but there is
// nothing useful a caller can do beyond closing the stream.
func (c *Conn) WriteAbort() error {
	return c.locked(func() error {
		return c.w.WriteByte(abortByte)
	})
}

// ReadCommand reads a command frame.
func (c *Conn) ReadCommand() (Command, error) {
	body, err := c.expect(kindCommand)
	if err != nil {
		return CommandInvalid, err
	}

	if len(body) != 1 {
		return CommandInvalid, fmt.Errorf("%w: command frame of %d bytes", ErrDecode, len(body))
	}

	return Command(body[0]), nil
}

// ReadObject reads an object frame into v. A decode failure is reported as
// ErrDecode after the whole frame was consumed.
func (c *Conn) ReadObject(v any) error {
	body, err := c.expect(kindObject)
	if err != nil {
		return err
	}

	return decodeObject(body, v)
}

// ReadPayload reads the object that follows cmd, typed through the payload
// table.
func (c *Conn) ReadPayload(cmd Command) (any, error) {
	v, err := NewPayload(cmd)
	if err != nil {
		return nil, err
	}

	if err := c.ReadObject(v); err != nil {
		return nil, err
	}

	return v, nil
}

// ReadStatus reads a status frame.
func (c *Conn) ReadStatus() (int32, error) {
	body, err := c.expect(kindStatus)
	if err != nil {
		return 0, err
	}

	if len(body) != 4 {
		return 0, fmt.Errorf("%w: status frame of %d bytes", ErrDecode, len(body))
	}

	return int32(binary.BigEndian.Uint32(body)), nil //nolint:gosec // two's complement round trip
}

// ReadBlob copies a blob stream into w.
func (c *Conn) ReadBlob(w io.Writer) (int64, error) {
	var total int64

	for {
		body, err := c.expect(kindBlob)
		if err != nil {
			return total, err
		}

		if len(body) == 0 {
			return total, nil
		}

		n, err := w.Write(body)
		total += int64(n)

		if err != nil {
			return total, fmt.Errorf("writing blob: %w", err)
		}
	}
}
