package diff

import (
	"reflect"
	"testing"

	"github.com/ironlayer/ironlayer/internal/model"
)

func TestCompareClassifiesAddedRemovedModified(t *testing.T) {
	base := Snapshot{Hashes: map[string]string{
		"a": "h1",
		"b": "h2",
	}}
	target := Snapshot{Hashes: map[string]string{
		"b": "h2-changed",
		"c": "h3",
	}}

	d := New()
	res := d.Compare(base, target)

	if !reflect.DeepEqual(res.Added, []string{"c"}) {
		t.Errorf("Added = %v", res.Added)
	}
	if !reflect.DeepEqual(res.Removed, []string{"a"}) {
		t.Errorf("Removed = %v", res.Removed)
	}
	if !reflect.DeepEqual(res.Modified, []string{"b"}) {
		t.Errorf("Modified = %v", res.Modified)
	}
}

func TestCompareDetectsCosmeticChangeWithNormalizer(t *testing.T) {
	base := Snapshot{
		Hashes: map[string]string{"m": "h1"},
		SQL:    map[string]string{"m": "SELECT 1 -- old comment"},
	}
	target := Snapshot{
		Hashes: map[string]string{"m": "h2"},
		SQL:    map[string]string{"m": "SELECT   1  -- new comment"},
	}

	d := New(WithNormalizer(model.NormalizeSQL))
	res := d.Compare(base, target)

	if len(res.Modified) != 0 {
		t.Errorf("Modified = %v, want empty (cosmetic only)", res.Modified)
	}
	if !reflect.DeepEqual(res.CosmeticChangesSkipped, []string{"m"}) {
		t.Errorf("CosmeticChangesSkipped = %v", res.CosmeticChangesSkipped)
	}
}

func TestCompareWithoutNormalizerNeverClassifiesCosmetic(t *testing.T) {
	base := Snapshot{
		Hashes: map[string]string{"m": "h1"},
		SQL:    map[string]string{"m": "SELECT 1"},
	}
	target := Snapshot{
		Hashes: map[string]string{"m": "h2"},
		SQL:    map[string]string{"m": "SELECT 1"},
	}

	d := New(WithNormalizer(nil))
	res := d.Compare(base, target)

	if len(res.CosmeticChangesSkipped) != 0 {
		t.Errorf("CosmeticChangesSkipped should be empty without a normalizer")
	}
	if !reflect.DeepEqual(res.Modified, []string{"m"}) {
		t.Errorf("Modified = %v, want [m] (conservative fallback)", res.Modified)
	}
}

func TestCompareSortsAllLists(t *testing.T) {
	base := Snapshot{Hashes: map[string]string{}}
	target := Snapshot{Hashes: map[string]string{
		"z": "1", "a": "2", "m": "3",
	}}

	d := New()
	res := d.Compare(base, target)
	if !reflect.DeepEqual(res.Added, []string{"a", "m", "z"}) {
		t.Errorf("Added not sorted: %v", res.Added)
	}
}
