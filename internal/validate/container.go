package validate

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"romid/internal/catalog"
)

const (
	chdMagic          = "MComprHD"
	chdMaxMetaEntries = 64
	wiaDiscTypeOffset = 72
)

var chdMediaTags = map[string]string{
	"CHCD": "cdrom",
	"CHTR": "cdrom",
	"CHT2": "cdrom",
	"CHGT": "gdrom",
	"CHGD": "gdrom",
	"DVD ": "dvd",
	"GDDD": "hdd",
}

// ContainerValidator reads media metadata from compressed disc containers
// (CHD, WIA, RVZ) without decompressing them.
type ContainerValidator struct{}

func (ContainerValidator) Name() string { return "container" }

func (ContainerValidator) Applies(item Item, _ *catalog.Catalog) bool {
	if item.Open == nil {
		return false
	}
	switch item.Ext() {
	case ".chd", ".rvz", ".wia":
		return true
	}
	return false
}

func (v ContainerValidator) Validate(_ context.Context, item Item, cat *catalog.Catalog) Outcome {
	out := Outcome{Validator: v.Name()}
	rc, err := item.Open()
	if err != nil {
		out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectUnreadable, Detail: err.Error()})
		return out
	}
	defer rc.Close()
	ra, ok := rc.(io.ReaderAt)
	if !ok {
		out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectUnreadable, Detail: "container needs random access"})
		return out
	}

	var key string
	switch item.Ext() {
	case ".chd":
		media, version, err := chdMedia(ra)
		if err != nil {
			out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectBadContainer, Detail: err.Error()})
			return out
		}
		if media == "" {
			out.Evidence = fmt.Sprintf("chd v%d without media metadata", version)
			return out
		}
		key = "chd:" + media
		out.Evidence = fmt.Sprintf("chd v%d media %s", version, media)
	default:
		format, disc, err := wiaDiscType(ra)
		if err != nil {
			out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectBadContainer, Detail: err.Error()})
			return out
		}
		key = format + ":" + disc
		out.Evidence = fmt.Sprintf("%s disc type %s", format, disc)
	}
	if platforms := cat.ContainerPlatforms(key); len(platforms) == 1 {
		out.Platform = platforms[0]
	}
	return out
}

// chdMedia returns the media kind named by the first recognised metadata tag.
func chdMedia(ra io.ReaderAt) (string, uint32, error) {
	head := make([]byte, 124)
	n, err := ra.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", 0, err
	}
	head = head[:n]
	if len(head) < 16 || string(head[:8]) != chdMagic {
		return "", 0, errors.New("missing MComprHD magic")
	}
	version := binary.BigEndian.Uint32(head[12:16])
	var metaOffset uint64
	switch version {
	case 5:
		if len(head) < 124 {
			return "", version, errors.New("truncated v5 header")
		}
		metaOffset = binary.BigEndian.Uint64(head[48:56])
	case 3, 4:
		if len(head) < 44 {
			return "", version, fmt.Errorf("truncated v%d header", version)
		}
		metaOffset = binary.BigEndian.Uint64(head[36:44])
	default:
		return "", version, fmt.Errorf("unsupported chd version %d", version)
	}

	seen := map[uint64]bool{}
	entry := make([]byte, 16)
	for i := 0; metaOffset != 0 && i < chdMaxMetaEntries; i++ {
		if seen[metaOffset] {
			return "", version, fmt.Errorf("metadata chain loops at 0x%x", metaOffset)
		}
		seen[metaOffset] = true
		if _, err := ra.ReadAt(entry, int64(metaOffset)); err != nil {
			return "", version, fmt.Errorf("read metadata at 0x%x: %w", metaOffset, err)
		}
		if media, ok := chdMediaTags[string(entry[:4])]; ok {
			return media, version, nil
		}
		metaOffset = binary.BigEndian.Uint64(entry[8:16])
	}
	return "", version, nil
}

func wiaDiscType(ra io.ReaderAt) (string, string, error) {
	head := make([]byte, wiaDiscTypeOffset+4)
	if _, err := ra.ReadAt(head, 0); err != nil {
		return "", "", fmt.Errorf("read header: %w", err)
	}
	var format string
	switch {
	case bytes.Equal(head[:4], []byte("WIA\x01")):
		format = "wia"
	case bytes.Equal(head[:4], []byte("RVZ\x01")):
		format = "rvz"
	default:
		return "", "", fmt.Errorf("unknown magic %q", strings.TrimRight(string(head[:4]), "\x00"))
	}
	switch binary.BigEndian.Uint32(head[wiaDiscTypeOffset:]) {
	case 1:
		return format, "gamecube", nil
	case 2:
		return format, "wii", nil
	default:
		return format, "", fmt.Errorf("unknown disc type %d", binary.BigEndian.Uint32(head[wiaDiscTypeOffset:]))
	}
}
