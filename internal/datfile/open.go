package datfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ErrAmbiguousZip is returned when a zipped reference file does not hold
// exactly one candidate member.
var ErrAmbiguousZip = errors.New("zip must contain exactly one reference file")

// Opened is a readable reference file, possibly a member of a zip.
type Opened struct {
	io.Reader
	// Member is the zip member name, empty for plain files.
	Member  string
	closers []io.Closer
}

// Close releases the underlying file handles.
func (o *Opened) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open opens a reference file, unwrapping a zip that holds a single
// .dat or .xml member.
func Open(filePath string) (*Opened, error) {
	if !isZip(filePath) {
		file, err := os.Open(filePath)
		if err != nil {
			return nil, err
		}
		return &Opened{Reader: file, closers: []io.Closer{file}}, nil
	}

	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("open zip %s: %w", filePath, err)
	}
	var member *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		ext := strings.ToLower(path.Ext(f.Name))
		if ext != ".dat" && ext != ".xml" {
			continue
		}
		if member != nil {
			_ = zr.Close()
			return nil, fmt.Errorf("%s: %w", filePath, ErrAmbiguousZip)
		}
		member = f
	}
	if member == nil {
		_ = zr.Close()
		return nil, fmt.Errorf("%s: %w", filePath, ErrAmbiguousZip)
	}
	rc, err := member.Open()
	if err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("open %s in %s: %w", member.Name, filePath, err)
	}
	return &Opened{Reader: rc, Member: member.Name, closers: []io.Closer{zr, rc}}, nil
}

// ParseFile opens filePath and parses it with Parse.
func ParseFile(filePath string, emit EmitFunc, onHeader ...HeaderFunc) (Summary, error) {
	src, err := Open(filePath)
	if err != nil {
		return Summary{}, err
	}
	defer src.Close()
	name := filePath
	if src.Member != "" {
		name = filePath + "!" + src.Member
	}
	return Parse(src, name, emit, onHeader...)
}

func isZip(filePath string) bool {
	if strings.EqualFold(path.Ext(filePath), ".zip") {
		return true
	}
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	magic := make([]byte, 4)
	if _, err := io.ReadFull(file, magic); err != nil {
		return false
	}
	return string(magic) == "PK\x03\x04"
}
