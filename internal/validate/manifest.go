package validate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"romid/internal/catalog"
)

// ManifestValidator checks multi-file disc descriptors (.cue, .gdi, .m3u).
type ManifestValidator struct{}

func (ManifestValidator) Name() string { return "manifest" }

func (ManifestValidator) Applies(item Item, _ *catalog.Catalog) bool {
	if item.Open == nil {
		return false
	}
	switch item.Ext() {
	case ".cue", ".gdi", ".m3u":
		return true
	}
	return false
}

func (v ManifestValidator) Validate(ctx context.Context, item Item, cat *catalog.Catalog) Outcome {
	switch item.Ext() {
	case ".cue":
		return v.validateCue(ctx, item, cat)
	case ".gdi":
		return v.validateGDI(item, cat)
	case ".m3u":
		return v.validateM3U(ctx, item, cat)
	}
	return Outcome{Validator: v.Name()}
}

type cueTrack struct {
	file     string
	number   int
	mode     string
	declared bool
}

func parseCue(r io.Reader) ([]string, []cueTrack, error) {
	var files []string
	var tracks []cueTrack
	current := ""
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := splitQuoted(strings.TrimSpace(scanner.Text()))
		if len(fields) == 0 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "FILE":
			if len(fields) < 2 {
				continue
			}
			current = fields[1]
			files = append(files, current)
		case "TRACK":
			if len(fields) < 3 {
				continue
			}
			n, _ := strconv.Atoi(fields[1])
			tracks = append(tracks, cueTrack{file: current, number: n, mode: strings.ToUpper(fields[2]), declared: current != ""})
		}
	}
	return files, tracks, scanner.Err()
}

func (v ManifestValidator) validateCue(_ context.Context, item Item, cat *catalog.Catalog) Outcome {
	out := Outcome{Validator: v.Name()}
	rc, err := item.Open()
	if err != nil {
		out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectUnreadable, Detail: err.Error()})
		return out
	}
	files, tracks, err := parseCue(io.LimitReader(rc, catalog.HeaderReadLimit))
	_ = rc.Close()
	if err != nil {
		out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectUnreadable, Detail: err.Error()})
		return out
	}
	if len(files) == 0 {
		out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectEmptyManifest, Detail: "no FILE entries"})
		return out
	}
	members, defects := v.checkMembers(item, files)
	out.Defects = append(out.Defects, defects...)
	if len(defects) > 0 {
		return out
	}
	for _, track := range tracks {
		if track.mode == "AUDIO" || !track.declared {
			continue
		}
		member := members[track.file]
		header, err := readHeader(member.Open)
		if err != nil {
			out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectUnreadable, Member: track.file, Detail: err.Error()})
			return out
		}
		matched := matchHeader(v.Name(), header, cat)
		out.Platform = matched.Platform
		if matched.Platform != "" {
			out.Evidence = fmt.Sprintf("cue track %02d %s: %s", track.number, track.file, matched.Evidence)
		}
		out.Defects = append(out.Defects, matched.Defects...)
		return out
	}
	return out
}

// checkMembers resolves each member once, reporting missing or empty ones.
func (v ManifestValidator) checkMembers(item Item, names []string) (map[string]Member, []Defect) {
	members := make(map[string]Member, len(names))
	var defects []Defect
	for _, name := range names {
		if _, seen := members[name]; seen {
			continue
		}
		var (
			m  Member
			ok bool
		)
		if item.Sibling != nil {
			m, ok = item.Sibling(name)
		}
		members[name] = m
		switch {
		case !ok:
			defects = append(defects, Defect{Validator: v.Name(), Code: DefectMissingMember, Member: name})
		case m.Size == 0:
			defects = append(defects, Defect{Validator: v.Name(), Code: DefectEmptyMember, Member: name})
		}
	}
	return members, defects
}

func parseGDI(r io.Reader) (int, []string, error) {
	scanner := bufio.NewScanner(r)
	declared := -1
	var files []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if declared < 0 {
			n, err := strconv.Atoi(line)
			if err != nil {
				return 0, nil, fmt.Errorf("track count %q: %w", line, err)
			}
			declared = n
			continue
		}
		fields := splitQuoted(line)
		if len(fields) < 5 {
			return declared, files, fmt.Errorf("track line %q: want at least 5 fields", line)
		}
		files = append(files, fields[4])
	}
	if declared < 0 {
		declared = 0
	}
	return declared, files, scanner.Err()
}

func (v ManifestValidator) validateGDI(item Item, cat *catalog.Catalog) Outcome {
	out := Outcome{Validator: v.Name()}
	rc, err := item.Open()
	if err != nil {
		out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectUnreadable, Detail: err.Error()})
		return out
	}
	declared, files, err := parseGDI(io.LimitReader(rc, catalog.HeaderReadLimit))
	_ = rc.Close()
	if err != nil {
		out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectUnreadable, Detail: err.Error()})
		return out
	}
	if len(files) == 0 {
		out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectEmptyManifest, Detail: "no track lines"})
		return out
	}
	if declared != len(files) {
		out.Defects = append(out.Defects, Defect{
			Validator: v.Name(),
			Code:      DefectTrackCount,
			Detail:    fmt.Sprintf("declares %d tracks, lists %d", declared, len(files)),
		})
	}
	_, defects := v.checkMembers(item, files)
	out.Defects = append(out.Defects, defects...)
	if len(out.Defects) > 0 {
		return out
	}
	if platforms := cat.ManifestPlatforms("gdi"); len(platforms) == 1 {
		out.Platform = platforms[0]
		out.Evidence = fmt.Sprintf("complete gdi with %d tracks", len(files))
	}
	return out
}

func parseM3U(r io.Reader) ([]string, error) {
	var discs []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		discs = append(discs, line)
	}
	return discs, scanner.Err()
}

func (v ManifestValidator) validateM3U(ctx context.Context, item Item, cat *catalog.Catalog) Outcome {
	out := Outcome{Validator: v.Name()}
	rc, err := item.Open()
	if err != nil {
		out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectUnreadable, Detail: err.Error()})
		return out
	}
	discs, err := parseM3U(io.LimitReader(rc, catalog.HeaderReadLimit))
	_ = rc.Close()
	if err != nil {
		out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectUnreadable, Detail: err.Error()})
		return out
	}
	if len(discs) == 0 {
		out.Defects = append(out.Defects, Defect{Validator: v.Name(), Code: DefectEmptyManifest, Detail: "no disc entries"})
		return out
	}
	members, defects := v.checkMembers(item, discs)
	out.Defects = append(out.Defects, defects...)
	if len(defects) > 0 {
		return out
	}

	first := members[discs[0]]
	disc := Item{
		Path:    discs[0],
		Name:    discs[0],
		Size:    first.Size,
		Open:    first.Open,
		Sibling: item.Sibling,
	}
	var resolved Outcome
	switch disc.Ext() {
	case ".cue":
		resolved = v.validateCue(ctx, disc, cat)
	case ".gdi":
		resolved = v.validateGDI(disc, cat)
	case ".m3u":
		return out
	default:
		switch {
		case (ContainerValidator{}).Applies(disc, cat):
			resolved = ContainerValidator{}.Validate(ctx, disc, cat)
		case (HeaderValidator{}).Applies(disc, cat):
			resolved = HeaderValidator{}.Validate(ctx, disc, cat)
		}
	}
	out.Defects = append(out.Defects, resolved.Defects...)
	if resolved.Platform != "" {
		out.Platform = resolved.Platform
		out.Evidence = fmt.Sprintf("m3u disc 1 %s: %s", discs[0], resolved.Evidence)
	}
	return out
}

// splitQuoted splits on whitespace, keeping double-quoted runs together.
func splitQuoted(line string) []string {
	var fields []string
	var b strings.Builder
	inQuote, started := false, false
	flush := func() {
		if started {
			fields = append(fields, b.String())
		}
		b.Reset()
		started = false
	}
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case !inQuote && (r == ' ' || r == '\t'):
			flush()
		default:
			b.WriteRune(r)
			started = true
		}
	}
	flush()
	return fields
}
