package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"sync"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/lexcodex/vision2ui/protocol"
)

// Stream frames messages over a byte stream with Content-Length headers, the
// same framing editors use for language servers.
type Stream struct {
	stream jsonrpc2.ObjectStream
	logger *log.Logger
	recv   chan protocol.Message
	done   chan struct{}
	once   sync.Once
	err    error
}

// NewStream starts reading from rwc. Objects that fail to decode are logged
// and skipped.
func NewStream(rwc io.ReadWriteCloser, logger *log.Logger) *Stream {
	if logger == nil {
		logger = log.Default()
	}
	s := &Stream{
		stream: jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}),
		logger: logger,
		recv:   make(chan protocol.Message, recvBufferSize),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Stdio returns a stream over the process's stdin and stdout.
func Stdio(logger *log.Logger) *Stream {
	return NewStream(&stdioReadWriteCloser{reader: os.Stdin, writer: os.Stdout}, logger)
}

func (s *Stream) readLoop() {
	defer close(s.recv)
	for {
		var raw json.RawMessage
		if err := s.stream.ReadObject(&raw); err != nil {
			if !s.closed() && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Printf("stream read: %v", err)
			}
			return
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			s.logger.Printf("stream: dropping message: %v", err)
			continue
		}
		select {
		case s.recv <- msg:
		case <-s.done:
			return
		}
	}
}

// Send writes one framed message.
func (s *Stream) Send(ctx context.Context, msg protocol.Message) error {
	if s.closed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.stream.WriteObject(json.RawMessage(data))
}

// Recv returns decoded inbound messages.
func (s *Stream) Recv() <-chan protocol.Message {
	return s.recv
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.stream.Close()
	})
	return s.err
}

func (s *Stream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

type stdioReadWriteCloser struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *stdioReadWriteCloser) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *stdioReadWriteCloser) Write(p []byte) (int, error) { return s.writer.Write(p) }
func (s *stdioReadWriteCloser) Close() error {
	_ = s.reader.Close()
	return s.writer.Close()
}
