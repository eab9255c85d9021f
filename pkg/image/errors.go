package image

import "fmt"

// Kind names the role an image plays in a build, for error wording.
type Kind string

const (
	KindBuilder   Kind = "builder image"
	KindRun       Kind = "run image"
	KindBuildpack Kind = "buildpack image"
)

type InvalidReferenceError struct {
	Value string
}

func (e InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid image reference '%s'", e.Value)
}

// RegistryMismatchError reports a fetch from a registry other than the one
// the build is authenticated against.
type RegistryMismatchError struct {
	Kind   Kind
	Ref    string
	Domain string
}

func (e RegistryMismatchError) Error() string {
	return fmt.Sprintf("%s '%s' must be pulled from the '%s' authenticated registry", e.Kind, e.Ref, e.Domain)
}

// PlatformMismatchError reports an image whose platform differs from the
// build's effective platform.
type PlatformMismatchError struct {
	Ref       string
	Requested string
	Actual    string
}

func (e PlatformMismatchError) Error() string {
	return fmt.Sprintf(
		"Image platform mismatch detected. The configured platform '%s' is not supported by the image '%s'. Requested platform '%s' but got '%s'",
		e.Requested, e.Ref, e.Requested, e.Actual,
	)
}
