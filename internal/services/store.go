package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ContentStore holds uploaded video bytes under a stored filename.
type ContentStore interface {
	Save(ctx context.Context, name string, r io.Reader) (int64, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Remove deletes name. A missing object is not an error.
	Remove(ctx context.Context, name string) error
	// Locate returns the input ffmpeg should read for name.
	Locate(ctx context.Context, name string) (string, error)
}

type DiskStore struct {
	dir       string
	chunkSize int
}

func NewDiskStore(dir string, chunkSize int) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	return &DiskStore{dir: dir, chunkSize: chunkSize}, nil
}

func (s *DiskStore) Dir() string {
	return s.dir
}

func (s *DiskStore) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Save streams r to disk one chunk at a time. Any read or write failure
// removes the partial file.
func (s *DiskStore) Save(ctx context.Context, name string, r io.Reader) (written int64, err error) {
	p := s.path(name)
	f, err := os.Create(p)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(p)
		}
	}()

	buf := make([]byte, s.chunkSize)
	for {
		if err = ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			m, werr := f.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, rerr
		}
	}

	if err = f.Sync(); err != nil {
		return written, err
	}
	if err = f.Close(); err != nil {
		return written, err
	}
	return written, nil
}

func (s *DiskStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(s.path(name))
}

func (s *DiskStore) Remove(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *DiskStore) Locate(_ context.Context, name string) (string, error) {
	p, err := filepath.Abs(s.path(name))
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrVideoNotFound
		}
		return "", err
	}
	return p, nil
}

func (s *DiskStore) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}
