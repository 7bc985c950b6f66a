package validate

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"romid/internal/catalog"
)

// Defect codes.
const (
	DefectMissingMember     = "missing_member"
	DefectEmptyMember       = "empty_member"
	DefectEmptyManifest     = "empty_manifest"
	DefectTrackCount        = "track_count"
	DefectAmbiguousHeader   = "ambiguous_header"
	DefectUnreadable        = "unreadable"
	DefectBadContainer      = "bad_container"
	DefectValidatorConflict = "validator_conflict"
)

// Defect is a structural problem found during validation. Defects are only
// reported, never persisted.
type Defect struct {
	Validator string `json:"validator"`
	Code      string `json:"code"`
	Member    string `json:"member,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Member is a file referenced by a manifest or sitting beside an item.
type Member struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// Item is one file to validate. Open yields its content; Sibling resolves a
// name relative to the item (its directory, or its archive).
type Item struct {
	Path    string
	Name    string
	Size    int64
	Open    func() (io.ReadCloser, error)
	Sibling func(name string) (Member, bool)
}

// Ext returns the lowercased extension of the item name.
func (it Item) Ext() string {
	return strings.ToLower(filepath.Ext(it.Name))
}

// FileItem describes a file on disk.
func FileItem(path string, size int64) Item {
	dir := filepath.Dir(path)
	return Item{
		Path: path,
		Name: filepath.Base(path),
		Size: size,
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
		Sibling: func(name string) (Member, bool) {
			target := filepath.Join(dir, filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
			info, err := os.Stat(target)
			if err != nil || info.IsDir() {
				return Member{Name: name}, false
			}
			return Member{
				Name: name,
				Size: info.Size(),
				Open: func() (io.ReadCloser, error) { return os.Open(target) },
			}, true
		},
	}
}

// Outcome is one validator's typed result.
type Outcome struct {
	Validator string   `json:"validator"`
	Platform  string   `json:"platform,omitempty"`
	Evidence  string   `json:"evidence,omitempty"`
	Defects   []Defect `json:"defects,omitempty"`
}

// Validator is a structural check for one family of formats.
type Validator interface {
	Name() string
	Applies(item Item, cat *catalog.Catalog) bool
	Validate(ctx context.Context, item Item, cat *catalog.Catalog) Outcome
}

// Result combines every applicable validator's outcome.
type Result struct {
	// Confirmed is set only when validators agree on exactly one platform.
	Confirmed string    `json:"confirmed,omitempty"`
	Evidence  string    `json:"evidence,omitempty"`
	Outcomes  []Outcome `json:"outcomes,omitempty"`
	Defects   []Defect  `json:"defects,omitempty"`
}

// Validators returns the closed set of validators in evaluation order.
func Validators() []Validator {
	return []Validator{ManifestValidator{}, HeaderValidator{}, ContainerValidator{}}
}

// Run applies every validator to item in fixed order.
func Run(ctx context.Context, item Item, cat *catalog.Catalog) Result {
	var res Result
	confirmed := map[string]string{}
	for _, v := range Validators() {
		if !v.Applies(item, cat) {
			continue
		}
		out := v.Validate(ctx, item, cat)
		res.Outcomes = append(res.Outcomes, out)
		res.Defects = append(res.Defects, out.Defects...)
		if out.Platform != "" {
			if _, seen := confirmed[out.Platform]; !seen {
				confirmed[out.Platform] = out.Evidence
			}
		}
	}
	switch len(confirmed) {
	case 0:
	case 1:
		for platform, evidence := range confirmed {
			res.Confirmed, res.Evidence = platform, evidence
		}
	default:
		platforms := make([]string, 0, len(confirmed))
		for p := range confirmed {
			platforms = append(platforms, p)
		}
		sort.Strings(platforms)
		res.Defects = append(res.Defects, Defect{
			Validator: "validate",
			Code:      DefectValidatorConflict,
			Detail:    strings.Join(platforms, ","),
		})
	}
	return res
}
