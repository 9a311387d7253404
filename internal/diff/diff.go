// Package diff computes the structural difference between two
// content-addressed snapshots of a model set.
package diff

import "sort"

// Normalizer reduces SQL to a form where cosmetic-only changes (whitespace,
// comments) compare equal. A nil Normalizer disables cosmetic-change
// detection entirely — the conservative fallback documented for the case
// where no SQL normalizer is available: every content-hash change is then
// treated as a real modification.
type Normalizer func(sql string) string

// Result is the three-way classification produced by Compare.
type Result struct {
	Added               []string
	Removed             []string
	Modified            []string
	CosmeticChangesSkipped []string
}

// Snapshot maps a model name to its content hash (and, optionally, its raw
// SQL body so cosmetic changes can be distinguished from structural ones).
type Snapshot struct {
	Hashes map[string]string
	SQL    map[string]string // optional; only needed when using WithNormalizer
}

// Differ computes structural diffs, optionally normalizer-aware.
type Differ struct {
	normalizer Normalizer
}

// Option configures a Differ.
type Option func(*Differ)

// WithNormalizer sets (or disables, via nil) the cosmetic-change normalizer.
func WithNormalizer(n Normalizer) Option {
	return func(d *Differ) { d.normalizer = n }
}

// New builds a Differ. By default no normalizer is set, so cosmetic-change
// detection is off until WithNormalizer supplies one.
func New(opts ...Option) *Differ {
	d := &Differ{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Compare diffs base against target.
func (d *Differ) Compare(base, target Snapshot) Result {
	var res Result

	for name := range target.Hashes {
		if _, ok := base.Hashes[name]; !ok {
			res.Added = append(res.Added, name)
		}
	}
	for name := range base.Hashes {
		if _, ok := target.Hashes[name]; !ok {
			res.Removed = append(res.Removed, name)
		}
	}
	for name, targetHash := range target.Hashes {
		baseHash, ok := base.Hashes[name]
		if !ok || baseHash == targetHash {
			continue
		}
		if d.isCosmetic(name, base, target) {
			res.CosmeticChangesSkipped = append(res.CosmeticChangesSkipped, name)
			continue
		}
		res.Modified = append(res.Modified, name)
	}

	sort.Strings(res.Added)
	sort.Strings(res.Removed)
	sort.Strings(res.Modified)
	sort.Strings(res.CosmeticChangesSkipped)
	return res
}

// isCosmetic reports whether a content-hash-differing model's SQL is
// unchanged after normalization. It requires both SQL bodies to be present
// and a normalizer to be configured; otherwise it conservatively returns
// false (over-plans rather than under-plans).
func (d *Differ) isCosmetic(name string, base, target Snapshot) bool {
	if d.normalizer == nil {
		return false
	}
	baseSQL, ok1 := base.SQL[name]
	targetSQL, ok2 := target.SQL[name]
	if !ok1 || !ok2 {
		return false
	}
	return d.normalizer(baseSQL) == d.normalizer(targetSQL)
}
