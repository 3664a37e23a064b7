package stream

import (
	"context"
	"io"
	"os"
)

// FileStream delivers a local file as a byte stream.
type FileStream struct {
	session Session
	path    string
}

// NewFileStream creates a stream for a local path.
func NewFileStream(session Session, path string) *FileStream {
	return &FileStream{session: session, path: path}
}

// Open opens the underlying file.
func (s *FileStream) Open(_ context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, NewError(err)
	}
	return f, nil
}

// URL returns a file:// URL for the path.
func (s *FileStream) URL() (string, error) {
	return "file://" + s.path, nil
}

// JSON returns the stable self-description.
func (s *FileStream) JSON() map[string]any {
	return map[string]any{
		"type": "file",
		"path": s.path,
	}
}

var _ Stream = (*FileStream)(nil)
