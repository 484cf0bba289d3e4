package engine

import "errors"

// DomainError is a caller-facing, recoverable refusal (retry after fixing
// the condition). Anything else returned by an engine operation is a
// storage/internal failure and should surface as a transient error.
type DomainError struct {
	Code    string
	Message string
	Detail  map[string]any
}

func (e *DomainError) Error() string { return e.Code + ": " + e.Message }

func domainErr(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// AsDomain unwraps err into a DomainError if it is one.
func AsDomain(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ErrVersionConflict is returned by a PlanStore when the expected version no
// longer matches the stored row. The caller lost a race; a retry re-reads.
var ErrVersionConflict = errors.New("plan version conflict")
