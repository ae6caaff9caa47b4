package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	// ChunkSize is the buffer size of the primary drain strategy.
	ChunkSize = 8176
	// FallbackLimit is the declared size below which a failed chunked read
	// is retried byte by byte.
	FallbackLimit = 1 << 20
	// DefaultContentType is used when the attachment declares none.
	DefaultContentType = "application/octet-stream"
)

var ErrEmptyAttachment = errors.New("attachment has no data")

// Drain reads the complete content of an attachment. It returns the bytes and
// the content type, or an error when no complete, non-empty content could be
// read; partial data is never returned.
func Drain(att Attachment) ([]byte, string, error) {
	contentType := att.MimeType()
	if contentType == "" {
		contentType = DefaultContentType
	}

	data, err := drainWith(att, readChunks)
	if err != nil {
		size := att.Size()
		if size < 0 || size >= FallbackLimit {
			return nil, "", fmt.Errorf("chunked read: %w", err)
		}
		var fallbackErr error
		data, fallbackErr = drainWith(att, readBytes)
		if fallbackErr != nil {
			return nil, "", errors.Join(
				fmt.Errorf("chunked read: %w", err),
				fmt.Errorf("byte read: %w", fallbackErr),
			)
		}
	}

	if len(data) == 0 {
		return nil, "", ErrEmptyAttachment
	}
	return data, contentType, nil
}

func drainWith(att Attachment, read func(Stream) ([]byte, error)) ([]byte, error) {
	stream, err := att.Open()
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if stream == nil {
		return nil, errors.New("open stream: no stream")
	}
	if closer, ok := stream.(io.Closer); ok {
		defer closer.Close()
	}
	return read(stream)
}

// readChunks accumulates full buffers until one comes back short.
func readChunks(stream Stream) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, ChunkSize)
	for {
		n, err := io.ReadFull(stream, buf)
		out.Write(buf[:n])
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return out.Bytes(), nil
		default:
			return nil, err
		}
	}
}

func readBytes(stream Stream) ([]byte, error) {
	var out bytes.Buffer
	for {
		b, err := stream.ReadByte()
		if errors.Is(err, io.EOF) {
			return out.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		out.WriteByte(b)
	}
}
