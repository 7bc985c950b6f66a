package testsupport

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"strings"
)

// ROM is one reference row built from real content.
type ROM struct {
	Game string
	Name string
	Data []byte
	// ChecksumOnly omits the sha1 attribute.
	ChecksumOnly bool
}

// LogiqxDAT renders a Logiqx XML reference file whose rows carry the digests
// of each ROM's Data.
func LogiqxDAT(headerName string, roms ...ROM) string {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\"?>\n<datafile>\n")
	fmt.Fprintf(&b, "\t<header><name>%s</name></header>\n", headerName)
	for _, rom := range roms {
		attrs := fmt.Sprintf(`name=%q size="%d" crc="%08x"`, rom.Name, len(rom.Data), crc32.ChecksumIEEE(rom.Data))
		if !rom.ChecksumOnly {
			sum := sha1.Sum(rom.Data)
			attrs += fmt.Sprintf(` sha1="%s"`, hex.EncodeToString(sum[:]))
		}
		fmt.Fprintf(&b, "\t<game name=%q><rom %s/></game>\n", rom.Game, attrs)
	}
	b.WriteString("</datafile>\n")
	return b.String()
}
