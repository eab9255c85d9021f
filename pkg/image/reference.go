package image

import (
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

// Reference is a normalized image reference. The zero value is not usable;
// construct through ParseReference.
type Reference struct {
	raw string
	ref name.Reference
}

func ParseReference(value string) (Reference, error) {
	ref, err := name.ParseReference(value, name.WeakValidation)
	if err != nil {
		return Reference{}, InvalidReferenceError{Value: value}
	}
	return Reference{raw: value, ref: ref}, nil
}

// String returns the reference as the user supplied it.
func (r Reference) String() string {
	return r.raw
}

// Name returns the fully qualified normalized reference.
func (r Reference) Name() string {
	return r.ref.Name()
}

// Domain returns the registry host.
func (r Reference) Domain() string {
	return r.ref.Context().RegistryStr()
}

// Path returns the repository path within the registry.
func (r Reference) Path() string {
	return r.ref.Context().RepositoryStr()
}

// Identifier returns the tag or digest.
func (r Reference) Identifier() string {
	return r.ref.Identifier()
}

func (r Reference) IsDigest() bool {
	_, ok := r.ref.(name.Digest)
	return ok
}

// InTaggedOrDigestForm pins bare references to :latest; tagged and digest
// references are returned unchanged.
func (r Reference) InTaggedOrDigestForm() Reference {
	if r.IsDigest() {
		return r
	}

	last := r.raw
	if i := strings.LastIndex(last, "/"); i >= 0 {
		last = last[i+1:]
	}
	if strings.Contains(last, ":") {
		return r
	}

	tagged, err := ParseReference(r.raw + ":latest")
	if err != nil {
		return r
	}
	return tagged
}

// WithTag returns the reference retargeted at tag, dropping any existing tag
// or digest.
func (r Reference) WithTag(tag string) (Reference, error) {
	base := r.raw
	if i := strings.Index(base, "@"); i >= 0 {
		base = base[:i]
	}
	slash := strings.LastIndex(base, "/")
	if colon := strings.LastIndex(base, ":"); colon > slash {
		base = base[:colon]
	}
	return ParseReference(base + ":" + tag)
}
