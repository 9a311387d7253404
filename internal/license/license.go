// Package license verifies Ed25519-signed license files and resolves
// tier/feature entitlements.
package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ironlayer/ironlayer/internal/quota"
)

// Feature is a gated capability name, e.g. "ai_advisory", "audit_log".
type Feature string

const (
	FeatureAIAdvisory   Feature = "ai_advisory"
	FeatureAuditLog     Feature = "audit_log"
	FeatureReconciliation Feature = "reconciliation"
	FeatureMultiTenant  Feature = "multi_tenant"
)

// ErrInvalidSignature means the signature did not verify against the
// payload.
var ErrInvalidSignature = errors.New("license: invalid signature")

// ErrExpired means the license's expires_at has passed.
var ErrExpired = errors.New("license: expired")

// File is the signed license payload (§6.4).
type File struct {
	LicenseID         string         `json:"license_id"`
	TenantID          string         `json:"tenant_id"`
	Tier              quota.Tier     `json:"tier"`
	IssuedAt          time.Time      `json:"issued_at"`
	ExpiresAt         time.Time      `json:"expires_at"`
	MaxModels         *int           `json:"max_models,omitempty"`
	MaxPlanRunsPerDay *int           `json:"max_plan_runs_per_day,omitempty"`
	AIEnabled         bool           `json:"ai_enabled"`
	Features          []Feature      `json:"features"`
	Signature         string         `json:"signature,omitempty"`
}

// canonicalPayload returns the signature-covered bytes: canonical JSON
// (sorted keys, "(\",\", \":\")" separators) of every field except
// signature.
func (f File) canonicalPayload() ([]byte, error) {
	cp := f
	cp.Signature = ""
	raw, err := json.Marshal(cp)
	if err != nil {
		return nil, err
	}
	// json.Marshal on a struct already emits fields in declaration order,
	// not sorted by key; route through a generic map to get true key sort
	// as required by "canonical_json sorts keys".
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	delete(generic, "signature")
	return marshalSortedCompact(generic)
}

func marshalSortedCompact(m map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte("{")
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, m[k]...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// Sign signs f with priv, setting f.Signature and returning the signed copy.
func Sign(f File, priv ed25519.PrivateKey) (File, error) {
	payload, err := f.canonicalPayload()
	if err != nil {
		return File{}, err
	}
	sig := ed25519.Sign(priv, payload)
	f.Signature = base64.StdEncoding.EncodeToString(sig)
	return f, nil
}

// Verify checks f's signature against pub, then its expiry. Verification
// order is signature first, then expiry, matching §6.4.
func Verify(f File, pub ed25519.PublicKey, now time.Time) error {
	sigBytes, err := base64.StdEncoding.DecodeString(f.Signature)
	if err != nil {
		return ErrInvalidSignature
	}
	payload, err := f.canonicalPayload()
	if err != nil {
		return fmt.Errorf("license: recompute payload: %w", err)
	}
	if !ed25519.Verify(pub, payload, sigBytes) {
		return ErrInvalidSignature
	}
	if now.After(f.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// Manager resolves tier and feature entitlements for a tenant, falling back
// to the community tier when no license is loaded or it failed
// verification — an offline IronLayer deployment always has a working,
// if limited, license state.
type Manager struct {
	pub     ed25519.PublicKey
	current *File
}

// NewManager builds a Manager with no license loaded (community tier).
func NewManager(pub ed25519.PublicKey) *Manager {
	return &Manager{pub: pub}
}

// Load installs a license file as current. When the Manager has a public
// key, f must first pass Verify; with no key, f is installed unverified.
func (m *Manager) Load(f File, now time.Time) error {
	if m.pub != nil {
		if err := Verify(f, m.pub, now); err != nil {
			return err
		}
	}
	m.current = &f
	return nil
}

// Loaded reports whether a license file is installed (verified, when a
// public key is configured). Callers
// that need to fall back to another tier source (e.g. a billing
// subscription) when no license is present should check this rather than
// Tier(), since Tier() always resolves to a concrete value.
func (m *Manager) Loaded() bool {
	return m.current != nil
}

// Tier returns the active tier, defaulting to community.
func (m *Manager) Tier() quota.Tier {
	if m.current == nil {
		return quota.TierCommunity
	}
	return m.current.Tier
}

// CheckEntitlement reports whether feature is enabled under the active
// license. Community tier has no gated features.
func (m *Manager) CheckEntitlement(feature Feature) bool {
	if m.current == nil {
		return false
	}
	for _, f := range m.current.Features {
		if f == feature {
			return true
		}
	}
	return false
}
