package digest

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Algorithm names a digest function.
type Algorithm string

const (
	CRC32  Algorithm = "crc32"
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
)

// order is the canonical rendering order for digests.
var order = []Algorithm{CRC32, MD5, SHA1, SHA256}

var hexLengths = map[Algorithm]int{
	CRC32:  8,
	MD5:    32,
	SHA1:   40,
	SHA256: 64,
}

// ParseAlgorithm resolves a configured algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := hexLengths[alg]; !ok {
		return "", fmt.Errorf("unsupported digest algorithm %q", name)
	}
	return alg, nil
}

// ParseAlgorithms resolves a list of names, dropping duplicates.
func ParseAlgorithms(names []string) ([]Algorithm, error) {
	seen := make(map[Algorithm]struct{}, len(names))
	out := make([]Algorithm, 0, len(names))
	for _, name := range names {
		alg, err := ParseAlgorithm(name)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[alg]; ok {
			continue
		}
		seen[alg] = struct{}{}
		out = append(out, alg)
	}
	return Sorted(out), nil
}

// Sorted returns algos in canonical order.
func Sorted(algos []Algorithm) []Algorithm {
	out := append([]Algorithm(nil), algos...)
	rank := func(a Algorithm) int {
		for i, candidate := range order {
			if candidate == a {
				return i
			}
		}
		return len(order)
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

// Strong reports whether the algorithm is authoritative for exact matches.
func (a Algorithm) Strong() bool {
	return a == SHA1 || a == SHA256
}

// Normalize lowercases and validates a hex digest for the algorithm.
func Normalize(alg Algorithm, value string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.TrimPrefix(value, "0x")
	want, ok := hexLengths[alg]
	if !ok {
		return "", fmt.Errorf("unsupported digest algorithm %q", alg)
	}
	if len(value) != want {
		return "", fmt.Errorf("%s digest %q: expected %d hex characters", alg, value, want)
	}
	if _, err := hex.DecodeString(value); err != nil {
		return "", fmt.Errorf("%s digest %q: not hex", alg, value)
	}
	return value, nil
}

// Digest is one algorithm/value pair.
type Digest struct {
	Algorithm Algorithm `json:"algorithm"`
	Hex       string    `json:"hex"`
}

func (d Digest) String() string {
	return string(d.Algorithm) + ":" + d.Hex
}

// Set holds every digest computed for one input. Empty fields were not computed.
type Set struct {
	CRC32  string `json:"crc32,omitempty" msgpack:"crc32,omitempty"`
	MD5    string `json:"md5,omitempty" msgpack:"md5,omitempty"`
	SHA1   string `json:"sha1,omitempty" msgpack:"sha1,omitempty"`
	SHA256 string `json:"sha256,omitempty" msgpack:"sha256,omitempty"`
}

// Get returns the hex value for alg, or "" when absent.
func (s Set) Get(alg Algorithm) string {
	switch alg {
	case CRC32:
		return s.CRC32
	case MD5:
		return s.MD5
	case SHA1:
		return s.SHA1
	case SHA256:
		return s.SHA256
	}
	return ""
}

func (s *Set) set(alg Algorithm, value string) {
	switch alg {
	case CRC32:
		s.CRC32 = value
	case MD5:
		s.MD5 = value
	case SHA1:
		s.SHA1 = value
	case SHA256:
		s.SHA256 = value
	}
}

// Has reports whether every algorithm in algos is present.
func (s Set) Has(algos []Algorithm) bool {
	for _, alg := range algos {
		if s.Get(alg) == "" {
			return false
		}
	}
	return true
}

// Missing returns the algorithms in algos that are absent.
func (s Set) Missing(algos []Algorithm) []Algorithm {
	var out []Algorithm
	for _, alg := range algos {
		if s.Get(alg) == "" {
			out = append(out, alg)
		}
	}
	return out
}

// Merge returns s with any empty field filled from other.
func (s Set) Merge(other Set) Set {
	for _, alg := range order {
		if s.Get(alg) == "" {
			s.set(alg, other.Get(alg))
		}
	}
	return s
}

// Strong returns the authoritative digest, preferring sha1 over sha256.
func (s Set) Strong() (Digest, bool) {
	if s.SHA1 != "" {
		return Digest{Algorithm: SHA1, Hex: s.SHA1}, true
	}
	if s.SHA256 != "" {
		return Digest{Algorithm: SHA256, Hex: s.SHA256}, true
	}
	return Digest{}, false
}

// Digests lists the present digests in canonical order.
func (s Set) Digests() []Digest {
	out := make([]Digest, 0, len(order))
	for _, alg := range order {
		if v := s.Get(alg); v != "" {
			out = append(out, Digest{Algorithm: alg, Hex: v})
		}
	}
	return out
}

// IsZero reports whether no digest is present.
func (s Set) IsZero() bool {
	return s == Set{}
}
