package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/joomcode/errorx"
)

// Reserved wire keys.
const (
	TagKey = "$tag"
	IDKey  = "$id"
	RefKey = "$ref"
)

// PlainTag labels shared plain maps. It is always registered.
const PlainTag = "Object"

var plainType = reflect.TypeOf(map[string]any(nil))

// Registry maps type tags to struct types. Both ends of a port must
// build identical registries before the first message is sent.
type Registry struct {
	mu      sync.RWMutex
	version *semver.Version
	byTag   map[string]reflect.Type
	byType  map[reflect.Type]string
}

// NewRegistry creates a registry with a semantic version used in the
// worker handshake.
func NewRegistry(version string) (*Registry, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, errorx.IllegalArgument.Wrap(err, "invalid registry version %q", version)
	}
	return &Registry{
		version: v,
		byTag:   map[string]reflect.Type{PlainTag: plainType},
		byType:  map[reflect.Type]string{},
	}, nil
}

// Register associates tag with the struct type of prototype.
// The prototype may be a struct value or a pointer to one, e.g. (*Citable)(nil).
func (r *Registry) Register(tag string, prototype any) error {
	if tag == "" {
		return errorx.IllegalArgument.New("empty type tag")
	}

	t := reflect.TypeOf(prototype)
	if t == nil {
		return errorx.IllegalArgument.New("nil prototype for tag %q", tag)
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return ErrUnsupported.New("tag %q: %s is not a struct type", tag, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byTag[tag]; ok {
		return ErrDuplicateRegistration.New("tag %q already registered for %s", tag, prev)
	}
	if prev, ok := r.byType[t]; ok {
		return ErrDuplicateRegistration.New("type %s already registered as %q", t, prev)
	}

	r.byTag[tag] = t
	r.byType[t] = tag

	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(tag string, prototype any) {
	if err := r.Register(tag, prototype); err != nil {
		panic(err)
	}
}

// Resolve returns the type registered for tag.
func (r *Registry) Resolve(tag string) (reflect.Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byTag[tag]
	if !ok {
		return nil, ErrUnknownTypeTag.New("unknown type tag %q", tag)
	}
	return t, nil
}

// TagOf returns the tag registered for t or *t.
func (r *Registry) TagOf(t reflect.Type) (string, bool) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	tag, ok := r.byType[t]
	return tag, ok
}

// Tags returns all registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Version returns the registry version.
func (r *Registry) Version() string {
	return r.version.String()
}

// Fingerprint is a digest of every tag and the type it resolves to.
func (r *Registry) Fingerprint() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lines := make([]string, 0, len(r.byTag))
	for tag, t := range r.byTag {
		lines = append(lines, fmt.Sprintf("%s=%s", tag, t.String()))
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// Compatible checks a peer's registry version and fingerprint.
// An empty constraint defaults to the caret range of this registry's version.
func (r *Registry) Compatible(version, fingerprint, constraint string) error {
	if constraint == "" {
		constraint = "^" + r.version.String()
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return errorx.IllegalArgument.Wrap(err, "invalid registry constraint %q", constraint)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return ErrRegistryMismatch.Wrap(err, "peer sent invalid registry version %q", version)
	}

	if !c.Check(v) {
		return ErrRegistryMismatch.New("peer registry version %s does not satisfy %s", v, constraint)
	}

	if fp := r.Fingerprint(); fingerprint != fp {
		return ErrRegistryMismatch.New("peer registry fingerprint %.12s differs from %.12s", fingerprint, fp)
	}

	return nil
}
