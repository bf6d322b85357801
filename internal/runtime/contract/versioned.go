package contract

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
)

// Version holds the events and requests of one contract version.
type Version struct {
	Events   EventMap
	Requests RequestMap
}

// Versioned maps semantic versions to contracts sharing one error catalog.
type Versioned struct {
	name       string
	defaultVer string
	contracts  map[string]*Contract
	ordered    []string
}

// NewVersioned builds a contract per version. Versions may be written with or
// without the leading "v"; defaultVersion must be one of them.
func NewVersioned(name, defaultVersion string, versions map[string]Version, errs ErrorMap, opts ...Option) (*Versioned, error) {
	def, err := canonicalVersion(defaultVersion)
	if err != nil {
		return nil, err
	}
	v := &Versioned{
		name:       name,
		defaultVer: def,
		contracts:  make(map[string]*Contract, len(versions)),
	}
	for raw, spec := range versions {
		ver, err := canonicalVersion(raw)
		if err != nil {
			return nil, err
		}
		if _, exists := v.contracts[ver]; exists {
			return nil, fmt.Errorf("%w: version %s", errspkg.ErrDuplicateName, ver)
		}
		c, err := New(name, spec.Events, spec.Requests, errs, opts...)
		if err != nil {
			return nil, fmt.Errorf("version %s: %w", ver, err)
		}
		v.contracts[ver] = c
		v.ordered = append(v.ordered, ver)
	}
	if _, ok := v.contracts[def]; !ok {
		return nil, fmt.Errorf("%w: default %s", errspkg.ErrUnknownVersion, def)
	}
	sort.Slice(v.ordered, func(i, j int) bool { return semver.Compare(v.ordered[i], v.ordered[j]) < 0 })
	return v, nil
}

// Name returns the name shared by every version.
func (v *Versioned) Name() string { return v.name }

// Default returns the canonical default version.
func (v *Versioned) Default() string { return v.defaultVer }

// Versions returns all versions in ascending semver order.
func (v *Versioned) Versions() []string {
	return append([]string(nil), v.ordered...)
}

// Resolve returns the contract for version, or the default when version is
// empty.
func (v *Versioned) Resolve(version string) (*Contract, error) {
	if strings.TrimSpace(version) == "" {
		return v.contracts[v.defaultVer], nil
	}
	ver, err := canonicalVersion(version)
	if err != nil {
		return nil, err
	}
	c, ok := v.contracts[ver]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrUnknownVersion, ver)
	}
	return c, nil
}

// Latest returns the highest version compatible with version, which need
// not be registered itself.
func (v *Versioned) Latest(version string) (*Contract, string, error) {
	want, err := canonicalVersion(version)
	if err != nil {
		return nil, "", err
	}
	for i := len(v.ordered) - 1; i >= 0; i-- {
		if AreVersionsCompatible(v.ordered[i], want) && semver.Compare(v.ordered[i], want) >= 0 {
			return v.contracts[v.ordered[i]], v.ordered[i], nil
		}
	}
	return nil, "", fmt.Errorf("%w: no version compatible with %s", errspkg.ErrUnknownVersion, want)
}

// AreVersionsCompatible reports whether a and b share a major version. Below
// v1 the minor version must match too. Invalid versions are never compatible.
func AreVersionsCompatible(a, b string) bool {
	va, errA := canonicalVersion(a)
	vb, errB := canonicalVersion(b)
	if errA != nil || errB != nil {
		return false
	}
	if semver.Major(va) != semver.Major(vb) {
		return false
	}
	if semver.Major(va) == "v0" {
		return semver.MajorMinor(va) == semver.MajorMinor(vb)
	}
	return true
}

// MeetsMinimumRequirements reports whether version is compatible with and
// not older than minimum.
func MeetsMinimumRequirements(version, minimum string) bool {
	if !AreVersionsCompatible(version, minimum) {
		return false
	}
	v, _ := canonicalVersion(version)
	m, _ := canonicalVersion(minimum)
	return semver.Compare(v, m) >= 0
}

func canonicalVersion(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s != "" && !strings.HasPrefix(s, "v") {
		s = "v" + s
	}
	if !semver.IsValid(s) {
		return "", fmt.Errorf("%w: %q", errspkg.ErrInvalidVersion, raw)
	}
	return semver.Canonical(s), nil
}
