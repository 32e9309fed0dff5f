package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// File serves ranges from a local file handle.
type File struct {
	handle *os.File
	size   int64
}

func OpenFile(path string) (*File, error) {
	handle, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open %q: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	info, err := handle.Stat()
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("stat %q: %w", path, err)
	}
	return &File{handle: handle, size: info.Size()}, nil
}

func (f *File) ReadRange(_ context.Context, offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length); err != nil {
		return nil, err
	}
	if offset+length > f.size {
		return nil, fmt.Errorf("range [%d, %d) beyond file size %d", offset, offset+length, f.size)
	}
	buf := make([]byte, length)
	if _, err := f.handle.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %q at %d: %w", f.handle.Name(), offset, err)
	}
	return buf, nil
}

func (f *File) Size(context.Context) (int64, error) {
	return f.size, nil
}

func (f *File) Close() error {
	return f.handle.Close()
}
