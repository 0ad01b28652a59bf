package spool

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Serialization is the encoding of the events inside a spool file.
type Serialization string

const (
	SerializationJSON   Serialization = "json"
	SerializationSmile  Serialization = "smile"
	SerializationThrift Serialization = "thrift"
	SerializationRaw    Serialization = "raw"
)

// SerializationFromPath derives the serialization kind from a file extension.
func SerializationFromPath(path string) Serialization {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return SerializationJSON
	case ".smile":
		return SerializationSmile
	case ".thrift":
		return SerializationThrift
	default:
		return SerializationRaw
	}
}

// File is a spooled event file awaiting delivery.
type File struct {
	Path          string
	RelPath       string
	EventName     string
	Serialization Serialization
	Size          int64
	ModTime       time.Time
}

// Scanner enumerates pending files in a local spool directory.
// Files still being written (dot files and *.tmp) are not pending.
type Scanner struct {
	dir string
}

// NewScanner creates a scanner rooted at dir.
func NewScanner(dir string) *Scanner {
	return &Scanner{dir: strings.TrimSpace(dir)}
}

// Dir returns the spool root.
func (s *Scanner) Dir() string {
	return s.dir
}

// Scan lists pending files in lexical order. A missing spool directory is empty.
func (s *Scanner) Scan(ctx context.Context) ([]File, error) {
	var files []File
	err := s.walk(ctx, func(path string, rel string, d fs.DirEntry) error {
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		files = append(files, File{
			Path:          path,
			RelPath:       rel,
			EventName:     eventName(rel),
			Serialization: SerializationFromPath(rel),
			Size:          info.Size(),
			ModTime:       info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Count returns the number of pending files.
func (s *Scanner) Count() (int, error) {
	count := 0
	err := s.walk(context.Background(), func(string, string, fs.DirEntry) error {
		count++
		return nil
	})
	return count, err
}

// Remove deletes a delivered file from the spool.
func (s *Scanner) Remove(f File) error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Scanner) walk(ctx context.Context, visit func(path string, rel string, d fs.DirEntry) error) error {
	if s.dir == "" {
		return nil
	}
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == s.dir && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == s.dir {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || inProgress(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		return visit(path, filepath.ToSlash(rel), d)
	})
	return err
}

func inProgress(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp")
}

// eventName is the first directory of rel, or the file stem for top-level files.
func eventName(rel string) string {
	if dir, _, found := strings.Cut(rel, "/"); found {
		return dir
	}
	return strings.TrimSuffix(rel, filepath.Ext(rel))
}
