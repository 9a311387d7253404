package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ComputeStepID hashes model+base+target with null-byte domain separators,
// so that e.g. computeID("ab","") != computeID("a","b").
func ComputeStepID(model, base, target string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(base))
	h.Write([]byte{0})
	h.Write([]byte(target))
	return hex.EncodeToString(h.Sum(nil))
}

// ComputePlanID hashes base+target+the concatenation of sorted step IDs,
// again with null-byte domain separators.
func ComputePlanID(base, target string, sortedStepIDs []string) string {
	h := sha256.New()
	h.Write([]byte(base))
	h.Write([]byte{0})
	h.Write([]byte(target))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sortedStepIDs, "")))
	return hex.EncodeToString(h.Sum(nil))
}
