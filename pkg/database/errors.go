package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/apperrors"
)

// ClassifyError tags a persistence error with apperrors.ErrStoreTransient or
// apperrors.ErrStoreIntegrity so callers can decide on a retry with errors.Is.
// The original error stays in the chain. Errors that are already classified,
// or that match neither class, are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrStoreTransient) || errors.Is(err, apperrors.ErrStoreIntegrity) {
		return err
	}
	if IsTransient(err) {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreTransient, err)
	}
	if IsIntegrityViolation(err) {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreIntegrity, err)
	}
	return err
}

// IsTransient reports whether err is a connection, lock or resource failure
// that may succeed when the whole operation is retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization failure, deadlock
			return true
		case pgErr.Code == "55P03": // lock not available
			return true
		case strings.HasPrefix(pgErr.Code, "53"): // insufficient resources
			return true
		case strings.HasPrefix(pgErr.Code, "57P"): // admin/crash shutdown, cannot connect now
			return true
		}
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return pgconn.SafeToRetry(err)
}

// IsIntegrityViolation reports whether err is a SQLSTATE class 23 error.
func IsIntegrityViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}
