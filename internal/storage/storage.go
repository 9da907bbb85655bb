// Package storage writes verified pieces to disk.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/WendelHime/btpeer/internal/shared/models"
)

var ErrUnsafePath = errors.New("unsafe file path")

// Storage receives every verified piece exactly once.
type Storage interface {
	WritePiece(index int, data []byte) error
}

type fileSpan struct {
	path   string
	offset int64
	length int64
}

// FileStorage lays the torrent content out as the files named in the
// metainfo. A piece that straddles a file boundary is split across files.
type FileStorage struct {
	pieceLength int64
	total       int64
	files       []fileSpan
}

// NewFileStorage creates every file of info under dir. A single-file torrent
// is written to dir/name, a multi-file one below dir/name/.
func NewFileStorage(info models.Info, dir string) (*FileStorage, error) {
	if info.PieceLength <= 0 {
		return nil, fmt.Errorf("invalid piece length %d", info.PieceLength)
	}
	if err := checkComponent(info.Name); err != nil {
		return nil, err
	}

	s := &FileStorage{pieceLength: int64(info.PieceLength)}
	if len(info.Files) == 0 {
		s.files = []fileSpan{{path: filepath.Join(dir, info.Name), length: int64(info.Length)}}
	} else {
		for _, f := range info.Files {
			for _, c := range f.Path {
				if err := checkComponent(c); err != nil {
					return nil, err
				}
			}
			s.files = append(s.files, fileSpan{
				path:   filepath.Join(append([]string{dir, info.Name}, f.Path...)...),
				offset: s.total,
				length: int64(f.Length),
			})
			s.total += int64(f.Length)
		}
	}
	if len(info.Files) == 0 {
		s.total = int64(info.Length)
	}

	for _, f := range s.files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		if err := file.Close(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Paths lists the files in torrent order.
func (s *FileStorage) Paths() []string {
	paths := make([]string, len(s.files))
	for i, f := range s.files {
		paths[i] = f.path
	}
	return paths
}

func (s *FileStorage) WritePiece(index int, data []byte) error {
	start := int64(index) * s.pieceLength
	end := start + int64(len(data))
	if index < 0 || end > s.total {
		return fmt.Errorf("piece %d of %d bytes does not fit in %d bytes", index, len(data), s.total)
	}

	for _, f := range s.files {
		lo := max(start, f.offset)
		hi := min(end, f.offset+f.length)
		if lo >= hi {
			continue
		}
		if err := writeAt(f.path, data[lo-start:hi-start], lo-f.offset); err != nil {
			return fmt.Errorf("piece %d: %w", index, err)
		}
	}
	return nil
}

func writeAt(path string, data []byte, offset int64) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := file.WriteAt(data, offset); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// PieceFile stores a single piece as the whole content of Path.
type PieceFile struct {
	Path string
}

func (p PieceFile) WritePiece(index int, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0755); err != nil {
		return err
	}
	return os.WriteFile(p.Path, data, 0644)
}

func checkComponent(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return nil
}
