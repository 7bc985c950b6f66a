package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"romid/internal/catalog"
)

// HeaderValidator matches catalog signatures against the leading bytes of a
// disc or cartridge image. It never reads past catalog.HeaderReadLimit.
type HeaderValidator struct{}

func (HeaderValidator) Name() string { return "header" }

func (HeaderValidator) Applies(item Item, cat *catalog.Catalog) bool {
	return item.Open != nil && cat.HeaderExtension(item.Ext())
}

func (v HeaderValidator) Validate(_ context.Context, item Item, cat *catalog.Catalog) Outcome {
	out := Outcome{Validator: v.Name()}
	header, err := readHeader(item.Open)
	if err != nil {
		out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectUnreadable, Detail: err.Error()})
		return out
	}
	return matchHeader(v.Name(), header, cat)
}

func readHeader(open func() (io.ReadCloser, error)) ([]byte, error) {
	rc, err := open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	buf := make([]byte, catalog.HeaderReadLimit)
	n, err := io.ReadFull(rc, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func matchHeader(validator string, header []byte, cat *catalog.Catalog) Outcome {
	out := Outcome{Validator: validator}
	var matched []string
	evidence := map[string]string{}
	for _, p := range cat.Platforms() {
		for _, sig := range p.HeaderSignatures {
			if where, ok := signatureAt(header, sig); ok {
				matched = append(matched, p.ID)
				evidence[p.ID] = where
				break
			}
		}
	}
	switch len(matched) {
	case 0:
	case 1:
		out.Platform = matched[0]
		out.Evidence = evidence[matched[0]]
	default:
		sorted := append([]string(nil), matched...)
		sort.Strings(sorted)
		out.Defects = append(out.Defects, Defect{
			Validator: validator,
			Code:      DefectAmbiguousHeader,
			Detail:    strings.Join(sorted, ","),
		})
	}
	return out
}

func signatureAt(header []byte, sig catalog.Signature) (string, bool) {
	pattern := sig.Pattern()
	if len(pattern) == 0 {
		return "", false
	}
	if sig.Anywhere {
		if idx := bytes.Index(header, pattern); idx >= 0 {
			return fmt.Sprintf("signature %q at 0x%x", display(sig), idx), true
		}
		return "", false
	}
	end := sig.Offset + int64(len(pattern))
	if sig.Offset < 0 || end > int64(len(header)) {
		return "", false
	}
	if bytes.Equal(header[sig.Offset:end], pattern) {
		return fmt.Sprintf("signature %q at 0x%x", display(sig), sig.Offset), true
	}
	return "", false
}

func display(sig catalog.Signature) string {
	if sig.Text != "" {
		return sig.Text
	}
	return strings.ToLower(sig.Hex)
}
