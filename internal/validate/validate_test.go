package validate

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"romid/internal/catalog"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func itemFor(t *testing.T, path string) Item {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return FileItem(path, info.Size())
}

func imageWith(size int, offset int, pattern []byte) []byte {
	data := make([]byte, size)
	copy(data[offset:], pattern)
	return data
}

func hasDefect(defects []Defect, code, member string) bool {
	for _, d := range defects {
		if d.Code == code && (member == "" || d.Member == member) {
			return true
		}
	}
	return false
}

func TestCueMissingTrackReportsDefect(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Game (Track 1).bin", imageWith(40000, 37656, []byte("PLAYSTATION")))
	cue := writeFile(t, dir, "Game.cue", []byte(
		"FILE \"Game (Track 1).bin\" BINARY\n  TRACK 01 MODE2/2352\n    INDEX 01 00:00:00\n"+
			"FILE \"Game (Track 2).bin\" BINARY\n  TRACK 02 AUDIO\n    INDEX 01 00:00:00\n"))

	res := Run(context.Background(), itemFor(t, cue), catalog.Default())
	if res.Confirmed != "" {
		t.Fatalf("expected no confirmation, got %q", res.Confirmed)
	}
	if !hasDefect(res.Defects, DefectMissingMember, "Game (Track 2).bin") {
		t.Fatalf("expected missing_member for track 2, got %+v", res.Defects)
	}
	if hasDefect(res.Defects, DefectMissingMember, "Game (Track 1).bin") {
		t.Fatalf("track 1 exists but was reported missing: %+v", res.Defects)
	}
}

func TestCueDelegatesFirstDataTrack(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "audio.bin", imageWith(4096, 0, nil))
	writeFile(t, dir, "data.bin", imageWith(40000, 37656, []byte("PLAYSTATION")))
	cue := writeFile(t, dir, "Game.cue", []byte(
		"FILE audio.bin BINARY\n TRACK 01 AUDIO\nFILE data.bin BINARY\n TRACK 02 MODE2/2352\n"))

	res := Run(context.Background(), itemFor(t, cue), catalog.Default())
	if res.Confirmed != "psx" {
		t.Fatalf("expected psx, got %q (defects %+v)", res.Confirmed, res.Defects)
	}
	if res.Evidence == "" {
		t.Fatalf("expected evidence for confirmation")
	}
}

func TestCueEmptyMember(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "data.bin", nil)
	cue := writeFile(t, dir, "Game.cue", []byte("FILE \"data.bin\" BINARY\n TRACK 01 MODE1/2048\n"))

	res := Run(context.Background(), itemFor(t, cue), catalog.Default())
	if !hasDefect(res.Defects, DefectEmptyMember, "data.bin") {
		t.Fatalf("expected empty_member, got %+v", res.Defects)
	}
}

func TestCueWithoutFiles(t *testing.T) {
	dir := t.TempDir()
	cue := writeFile(t, dir, "Game.cue", []byte("REM nothing here\n"))
	res := Run(context.Background(), itemFor(t, cue), catalog.Default())
	if !hasDefect(res.Defects, DefectEmptyManifest, "") {
		t.Fatalf("expected empty_manifest, got %+v", res.Defects)
	}
}

func TestGDIComplete(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "track01.bin", make([]byte, 2352))
	writeFile(t, dir, "track02.raw", make([]byte, 2352))
	writeFile(t, dir, "track 03.bin", make([]byte, 2352))
	gdi := writeFile(t, dir, "Game.gdi", []byte(
		"3\n1 0 4 2352 track01.bin 0\n2 756 0 2352 track02.raw 0\n3 45000 4 2352 \"track 03.bin\" 0\n"))

	res := Run(context.Background(), itemFor(t, gdi), catalog.Default())
	if res.Confirmed != "dreamcast" {
		t.Fatalf("expected dreamcast, got %q (defects %+v)", res.Confirmed, res.Defects)
	}
}

func TestGDIProblems(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "track01.bin", make([]byte, 2352))
	gdi := writeFile(t, dir, "Game.gdi", []byte("3\n1 0 4 2352 track01.bin 0\n2 756 0 2352 track02.raw 0\n"))

	res := Run(context.Background(), itemFor(t, gdi), catalog.Default())
	if res.Confirmed != "" {
		t.Fatalf("incomplete gdi must not confirm, got %q", res.Confirmed)
	}
	if !hasDefect(res.Defects, DefectTrackCount, "") {
		t.Fatalf("expected track_count defect, got %+v", res.Defects)
	}
	if !hasDefect(res.Defects, DefectMissingMember, "track02.raw") {
		t.Fatalf("expected missing track02.raw, got %+v", res.Defects)
	}
}

func TestM3UResolvesFirstDisc(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "disc1.bin", imageWith(40000, 37656, []byte("PLAYSTATION")))
	writeFile(t, dir, "Disc 1.cue", []byte("FILE \"disc1.bin\" BINARY\n TRACK 01 MODE2/2352\n"))
	writeFile(t, dir, "Disc 2.cue", []byte("FILE \"disc1.bin\" BINARY\n TRACK 01 MODE2/2352\n"))
	m3u := writeFile(t, dir, "Game.m3u", []byte("#EXTM3U\nDisc 1.cue\nDisc 2.cue\n"))

	res := Run(context.Background(), itemFor(t, m3u), catalog.Default())
	if res.Confirmed != "psx" {
		t.Fatalf("expected psx, got %q (defects %+v)", res.Confirmed, res.Defects)
	}
}

func TestM3UMissingDisc(t *testing.T) {
	dir := t.TempDir()
	m3u := writeFile(t, dir, "Game.m3u", []byte("Disc 1.chd\n"))
	res := Run(context.Background(), itemFor(t, m3u), catalog.Default())
	if !hasDefect(res.Defects, DefectMissingMember, "Disc 1.chd") {
		t.Fatalf("expected missing disc, got %+v", res.Defects)
	}
}

func TestHeaderSignatures(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		data      []byte
		want      string
		ambiguous bool
	}{
		{name: "gamecube magic", file: "game.iso", data: imageWith(1024, 28, []byte{0xC2, 0x33, 0x9F, 0x3D}), want: "gamecube"},
		{name: "wii magic", file: "game.iso", data: imageWith(1024, 24, []byte{0x5D, 0x1C, 0x9E, 0xA3}), want: "wii"},
		{name: "shared playstation volume", file: "game.iso", data: imageWith(40000, 32776, []byte("PLAYSTATION")), ambiguous: true},
		{name: "no signature", file: "random.bin", data: make([]byte, 512)},
		{name: "short file", file: "tiny.bin", data: []byte("SEGA")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tt.file, tt.data)
			res := Run(context.Background(), itemFor(t, path), catalog.Default())
			if res.Confirmed != tt.want {
				t.Fatalf("confirmed = %q, want %q", res.Confirmed, tt.want)
			}
			if got := hasDefect(res.Defects, DefectAmbiguousHeader, ""); got != tt.ambiguous {
				t.Fatalf("ambiguous_header = %v, want %v (%+v)", got, tt.ambiguous, res.Defects)
			}
		})
	}
}

func TestHeaderReadIsBounded(t *testing.T) {
	data := make([]byte, catalog.HeaderReadLimit+4096)
	copy(data[catalog.HeaderReadLimit+16:], "SEGA SEGAKATANA")
	path := writeFile(t, t.TempDir(), "late.iso", data)
	res := Run(context.Background(), itemFor(t, path), catalog.Default())
	if res.Confirmed != "" {
		t.Fatalf("signature beyond read limit must not match, got %q", res.Confirmed)
	}
}

func chdImage(tags ...string) []byte {
	head := make([]byte, 124)
	copy(head, chdMagic)
	binary.BigEndian.PutUint32(head[8:], 124)
	binary.BigEndian.PutUint32(head[12:], 5)
	if len(tags) > 0 {
		binary.BigEndian.PutUint64(head[48:], 124)
	}
	data := head
	for i, tag := range tags {
		entry := make([]byte, 16+8)
		copy(entry, tag)
		entry[7] = 8
		if i < len(tags)-1 {
			binary.BigEndian.PutUint64(entry[8:], uint64(124+(i+1)*24))
		}
		data = append(data, entry...)
	}
	return data
}

func TestContainerCHD(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		want   string
		defect bool
	}{
		{name: "gdrom metadata", data: chdImage("CHGD"), want: "dreamcast"},
		{name: "dvd after unrelated tag", data: chdImage("IDNT", "DVD "), want: "ps2"},
		{name: "cdrom without catalog mapping", data: chdImage("CHT2")},
		{name: "no metadata", data: chdImage()},
		{name: "bad magic", data: []byte("not a chd header at all"), defect: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "disc.chd", tt.data)
			res := Run(context.Background(), itemFor(t, path), catalog.Default())
			if res.Confirmed != tt.want {
				t.Fatalf("confirmed = %q, want %q (%+v)", res.Confirmed, tt.want, res.Outcomes)
			}
			if got := hasDefect(res.Defects, DefectBadContainer, ""); got != tt.defect {
				t.Fatalf("bad_container = %v, want %v", got, tt.defect)
			}
		})
	}
}

func TestContainerRVZ(t *testing.T) {
	data := make([]byte, 128)
	copy(data, "RVZ\x01")
	binary.BigEndian.PutUint32(data[wiaDiscTypeOffset:], 2)
	path := writeFile(t, t.TempDir(), "game.rvz", data)
	res := Run(context.Background(), itemFor(t, path), catalog.Default())
	if res.Confirmed != "wii" {
		t.Fatalf("expected wii, got %q (%+v)", res.Confirmed, res.Outcomes)
	}
}

func TestSplitQuoted(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: `FILE "Game (Track 1).bin" BINARY`, want: []string{"FILE", "Game (Track 1).bin", "BINARY"}},
		{in: "1 0 4 2352 track01.bin 0", want: []string{"1", "0", "4", "2352", "track01.bin", "0"}},
		{in: `FILE "" BINARY`, want: []string{"FILE", "", "BINARY"}},
		{in: "  \t ", want: nil},
	}
	for _, tt := range tests {
		if got := splitQuoted(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("splitQuoted(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}
