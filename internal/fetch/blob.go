package fetch

import (
	"context"
	"fmt"
)

// Blob serves ranges out of an in-memory buffer, e.g. a file dropped
// into the UI.
type Blob struct {
	data []byte
}

func NewBlob(data []byte) *Blob {
	return &Blob{data: data}
}

func (b *Blob) ReadRange(_ context.Context, offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length); err != nil {
		return nil, err
	}
	if offset+length > int64(len(b.data)) {
		return nil, fmt.Errorf("range [%d, %d) beyond blob size %d", offset, offset+length, len(b.data))
	}
	out := make([]byte, length)
	copy(out, b.data[offset:offset+length])
	return out, nil
}

func (b *Blob) Size(context.Context) (int64, error) {
	return int64(len(b.data)), nil
}
