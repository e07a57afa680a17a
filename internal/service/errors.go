package service

// ServiceError wraps an error with a code for API response mapping.
type ServiceError struct {
	Code    string // INVALID_ARGUMENT, NOT_FOUND, CONFLICT, UNAVAILABLE, INTERNAL
	Message string
	Err     error
}

func (e *ServiceError) Error() string { return e.Message }
func (e *ServiceError) Unwrap() error { return e.Err }

func invalidArg(msg string, err error) *ServiceError {
	return &ServiceError{Code: "INVALID_ARGUMENT", Message: msg, Err: err}
}

func notFound(msg string, err error) *ServiceError {
	return &ServiceError{Code: "NOT_FOUND", Message: msg, Err: err}
}

func conflict(msg string) *ServiceError {
	return &ServiceError{Code: "CONFLICT", Message: msg}
}

func unavailable(msg string) *ServiceError {
	return &ServiceError{Code: "UNAVAILABLE", Message: msg}
}

func internal(msg string, err error) *ServiceError {
	return &ServiceError{Code: "INTERNAL", Message: msg, Err: err}
}
