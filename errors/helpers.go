package errors

// WrapOpComponent wraps err with Op and Component, keeping the code of an inner SyncError.
// If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	return &SyncError{
		Op:        op,
		Component: component,
		Code:      CodeOf(err),
		Retryable: IsRetryable(err),
		Err:       err,
	}
}
