package apierr

import (
	"errors"
	"io/fs"
	"strings"
)

// classifierTable maps substrings found in a host error's message to the
// apierr.Code a caller should surface. Order matters: more specific
// patterns are checked first so they aren't shadowed by a general one.
var classifierTable = []struct {
	patterns []string
	code     Code
}{
	{[]string{"permission denied", "EACCES", "operation not permitted", "EPERM"}, CodeAccessDenied},
	{[]string{"not implemented", "not supported", "ENOTSUP", "EOPNOTSUPP"}, CodeNotSupported},
	{[]string{"no such file", "does not exist", "ENOENT"}, CodeUnknownObjectID},
	{[]string{"no space left", "ENOSPC"}, CodeNoFreeMemory},
	{[]string{"too many open files", "EMFILE", "ENFILE", "cannot allocate memory", "ENOMEM"}, CodeNoFreeMemory},
	{[]string{"no such process", "ESRCH"}, CodeInvalidOperation},
}

// ClassifyOSError turns a host OS/filesystem error into the closest §7
// error code, walking typed checks before falling back to a substring scan
// of the error text (the same two-tier strategy the storage layer's
// classifyError uses: typed assertions first, pattern table second).
func ClassifyOSError(err error) Code {
	if err == nil {
		return CodeSuccess
	}

	if errors.Is(err, fs.ErrNotExist) {
		return CodeUnknownObjectID
	}
	if errors.Is(err, fs.ErrPermission) {
		return CodeAccessDenied
	}
	if errors.Is(err, fs.ErrExist) {
		return CodeInvalidOperation
	}

	msg := err.Error()
	for _, entry := range classifierTable {
		if containsAny(msg, entry.patterns...) {
			return entry.code
		}
	}

	return CodeUnknownError
}

// WrapOSError classifies err via ClassifyOSError and wraps it as an *Error
// tagged with op. Returns nil if err is nil.
func WrapOSError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	return Wrap(ClassifyOSError(err), op, err)
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
