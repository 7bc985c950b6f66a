package datfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"romid/internal/digest"
	"romid/internal/faults"
)

// Dialect identifies the syntax of a reference file.
type Dialect string

const (
	DialectLogiqx     Dialect = "logiqx"
	DialectClrMamePro Dialect = "clrmamepro"
)

// ErrUnknownDialect is returned when content matches no supported syntax.
var ErrUnknownDialect = errors.New("unrecognised reference file dialect")

// maxProblems bounds how many malformed rows are retained verbatim.
const maxProblems = 50

// Header carries the descriptive block of a reference file.
type Header struct {
	Name        string
	Description string
	Version     string
}

// Status flags from the reference data.
const (
	StatusBadDump  = "baddump"
	StatusNoDump   = "nodump"
	StatusVerified = "verified"
)

// Record is one ROM row. SetName is the enclosing game; ItemName the file.
type Record struct {
	SetName  string
	ItemName string
	Size     int64
	Digests  digest.Set
	Status   string
	Line     int
}

// Summary reports what Parse saw.
type Summary struct {
	Dialect   Dialect
	Header    Header
	Records   int
	Skipped   int
	Malformed int
	// Problems holds the first malformed rows for reporting.
	Problems []*faults.MalformedEntryError
}

func (s *Summary) reject(source string, line int, item, reason string) {
	s.Malformed++
	if len(s.Problems) < maxProblems {
		s.Problems = append(s.Problems, &faults.MalformedEntryError{Source: source, Line: line, Item: item, Reason: reason})
	}
}

// EmitFunc receives each valid record. Returning an error stops parsing.
type EmitFunc func(Record) error

// HeaderFunc receives the header block before any record that follows it.
type HeaderFunc func(Header)

func notifyHeader(h Header, fns []HeaderFunc) {
	for _, fn := range fns {
		if fn != nil {
			fn(h)
		}
	}
}

// Parse sniffs the dialect of r and streams every valid record to emit.
// Malformed rows are counted in the summary and never abort parsing; only
// syntax errors that make the remainder unreadable are returned.
func Parse(r io.Reader, source string, emit EmitFunc, onHeader ...HeaderFunc) (Summary, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	dialect, err := Sniff(br)
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", source, err)
	}
	summary := Summary{Dialect: dialect}
	switch dialect {
	case DialectLogiqx:
		err = parseLogiqx(br, source, &summary, emit, onHeader)
	case DialectClrMamePro:
		err = parseClrMamePro(br, source, &summary, emit, onHeader)
	}
	return summary, err
}

// Sniff inspects the start of br without consuming it.
func Sniff(br *bufio.Reader) (Dialect, error) {
	head, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", err
	}
	head = bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	trimmed := bytes.TrimSpace(head)
	switch {
	case bytes.HasPrefix(trimmed, []byte("<")):
		return DialectLogiqx, nil
	case bytes.HasPrefix(bytes.ToLower(trimmed), []byte("clrmamepro")),
		bytes.HasPrefix(bytes.ToLower(trimmed), []byte("game")),
		bytes.HasPrefix(bytes.ToLower(trimmed), []byte("resource")):
		return DialectClrMamePro, nil
	}
	return "", ErrUnknownDialect
}

// buildRecord validates raw attribute values and fills a Record. The returned
// reason is non-empty when the row must be rejected.
func buildRecord(set, item, size, crc, md5, sha1, sha256, status string) (Record, string) {
	rec := Record{
		SetName:  strings.TrimSpace(set),
		ItemName: strings.TrimSpace(item),
		Status:   strings.ToLower(strings.TrimSpace(status)),
	}
	if rec.ItemName == "" {
		return rec, "missing rom name"
	}
	if rec.SetName == "" {
		return rec, "missing game name"
	}
	size = strings.TrimSpace(size)
	if size == "" {
		return rec, "missing size"
	}
	n, err := parseSize(size)
	if err != nil || n < 0 {
		return rec, fmt.Sprintf("invalid size %q", size)
	}
	rec.Size = n

	for _, field := range []struct {
		alg digest.Algorithm
		raw string
		dst *string
	}{
		{digest.CRC32, crc, &rec.Digests.CRC32},
		{digest.MD5, md5, &rec.Digests.MD5},
		{digest.SHA1, sha1, &rec.Digests.SHA1},
		{digest.SHA256, sha256, &rec.Digests.SHA256},
	} {
		if strings.TrimSpace(field.raw) == "" || strings.TrimSpace(field.raw) == "-" {
			continue
		}
		value, err := digest.Normalize(field.alg, field.raw)
		if err != nil {
			return rec, err.Error()
		}
		*field.dst = value
	}
	if rec.Digests.IsZero() {
		return rec, "no digest"
	}
	return rec, ""
}

func parseSize(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value[2:], 16, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}
