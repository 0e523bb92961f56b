package gmpreport

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("gmpreport: no store configured")
	ErrStoreClosed = errors.New("gmpreport: store closed")

	// Not found errors.
	ErrJobNotFound        = errors.New("gmpreport: job not found")
	ErrDLQNotFound        = errors.New("gmpreport: dlq entry not found")
	ErrCredentialNotFound = errors.New("gmpreport: credential record not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("gmpreport: job already exists")
	ErrDuplicateCron    = errors.New("gmpreport: duplicate cron entry")

	// State errors.
	ErrMaxAttemptsExceeded = errors.New("gmpreport: max attempts exceeded")
	ErrNoRunningJob        = errors.New("gmpreport: no running job in context")
	ErrUnknownKind         = errors.New("gmpreport: unknown remote task kind")
)
