package datfile

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

type xmlHeader struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Version     string `xml:"version"`
}

type xmlGame struct {
	Name string   `xml:"name,attr"`
	ROMs []xmlROM `xml:"rom"`
}

type xmlROM struct {
	Name   string `xml:"name,attr"`
	Size   string `xml:"size,attr"`
	CRC    string `xml:"crc,attr"`
	MD5    string `xml:"md5,attr"`
	SHA1   string `xml:"sha1,attr"`
	SHA256 string `xml:"sha256,attr"`
	Status string `xml:"status,attr"`
}

func parseLogiqx(r io.Reader, source string, summary *Summary, emit EmitFunc, onHeader []HeaderFunc) error {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	sawRoot := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: parse xml: %w", source, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch strings.ToLower(start.Name.Local) {
		case "datafile", "softwarelist", "mame":
			sawRoot = true
		case "header":
			var h xmlHeader
			if err := dec.DecodeElement(&h, &start); err != nil {
				return fmt.Errorf("%s: parse header: %w", source, err)
			}
			summary.Header = Header{
				Name:        strings.TrimSpace(h.Name),
				Description: strings.TrimSpace(h.Description),
				Version:     strings.TrimSpace(h.Version),
			}
			notifyHeader(summary.Header, onHeader)
		case "game", "machine", "software":
			line, _ := dec.InputPos()
			var g xmlGame
			if err := dec.DecodeElement(&g, &start); err != nil {
				return fmt.Errorf("%s:%d: parse game: %w", source, line, err)
			}
			if err := emitGame(g, line, source, summary, emit); err != nil {
				return err
			}
		}
	}
	if !sawRoot {
		return fmt.Errorf("%s: %w: no datafile element", source, ErrUnknownDialect)
	}
	return nil
}

func emitGame(g xmlGame, line int, source string, summary *Summary, emit EmitFunc) error {
	for _, rom := range g.ROMs {
		if strings.EqualFold(strings.TrimSpace(rom.Status), StatusNoDump) {
			summary.Skipped++
			continue
		}
		rec, reason := buildRecord(g.Name, rom.Name, rom.Size, rom.CRC, rom.MD5, rom.SHA1, rom.SHA256, rom.Status)
		if reason != "" {
			summary.reject(source, line, rec.ItemName, reason)
			continue
		}
		rec.Line = line
		summary.Records++
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}
