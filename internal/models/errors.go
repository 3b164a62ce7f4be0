package models

import "fmt"

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrUnsatisfiable ErrorType = iota
	ErrHeldVersion
	ErrFileConflict
	ErrEssential
	ErrPartialInstall
	ErrUnknownPackage
	ErrDowngrade
	ErrPackageParse
	ErrFileOp
	ErrInvalidConfig
	ErrSignature
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrUnsatisfiable:
		return "UnsatisfiableConstraint"
	case ErrHeldVersion:
		return "HeldVersionBlocked"
	case ErrFileConflict:
		return "FileConflict"
	case ErrEssential:
		return "EssentialProtected"
	case ErrPartialInstall:
		return "PartialInstallState"
	case ErrUnknownPackage:
		return "UnknownPackage"
	case ErrDowngrade:
		return "Downgrade"
	case ErrPackageParse:
		return "PackageParse"
	case ErrFileOp:
		return "FileOp"
	case ErrInvalidConfig:
		return "InvalidConfig"
	case ErrSignature:
		return "Signature"
	default:
		return "Unknown"
	}
}

// OpkgError represents a failure attributed to a package operation
type OpkgError struct {
	Type    ErrorType
	Package string
	Err     error
}

// NewError builds an OpkgError with a formatted cause
func NewError(t ErrorType, pkg string, format string, args ...interface{}) *OpkgError {
	return &OpkgError{Type: t, Package: pkg, Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface
func (e *OpkgError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Package, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *OpkgError) Unwrap() error {
	return e.Err
}

// Is matches any OpkgError of the same Type, so Err(t) works as a sentinel
// with errors.Is.
func (e *OpkgError) Is(target error) bool {
	t, ok := target.(*OpkgError)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Package == "" || t.Package == e.Package)
}

// Err returns a comparison target for errors.Is
func Err(t ErrorType) error {
	return &OpkgError{Type: t}
}
