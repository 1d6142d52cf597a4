// Package source defines the failure taxonomy for remote mailbox sources.
// Every error crossing an account's unit of work is classified into one of
// these kinds so that the cycle report can explain it and callers can decide
// whether to retry.
package source

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the stage of a sync that failed.
type ErrorKind string

const (
	// KindCredential means the refresh exchange or mailbox authentication
	// was rejected. The account is retried next cycle.
	KindCredential ErrorKind = "credential"

	// KindConnection means the session could not be opened (network,
	// TLS, timeout).
	KindConnection ErrorKind = "connection"

	// KindScan means the inbox could not be opened or searched.
	KindScan ErrorKind = "scan"

	// KindParse means a single message could not be fetched or parsed.
	KindParse ErrorKind = "parse"

	// KindPersistence means a store read or write failed.
	KindPersistence ErrorKind = "persistence"

	// KindUnknown covers anything else captured at the task boundary.
	KindUnknown ErrorKind = "unknown"
)

// Error is a classified sync failure for one account.
type Error struct {
	Kind    ErrorKind
	Account string
	Message string
	Err     error

	// Permanent is set when retrying without operator action is pointless
	// (e.g. a revoked refresh token).
	Permanent bool
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Account == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Kind, e.Account, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the given kind. A nil err yields nil.
func NewError(kind ErrorKind, account, message string, err error) error {
	if err == nil && message == "" {
		return nil
	}
	return &Error{Kind: kind, Account: account, Message: message, Err: err}
}

// CredentialError reports a rejected credential for account.
func CredentialError(account string, err error) error {
	return NewError(KindCredential, account, "", err)
}

// ConnectionError reports a failure to open a session for account.
func ConnectionError(account string, err error) error {
	return NewError(KindConnection, account, "", err)
}

// ScanError reports a failed inbox search for account.
func ScanError(account string, err error) error {
	return NewError(KindScan, account, "", err)
}

// ParseError reports an unreadable message for account.
func ParseError(account string, uid uint32, err error) error {
	return NewError(KindParse, account, fmt.Sprintf("message uid %d", uid), err)
}

// PersistenceError reports a store failure for account.
func PersistenceError(account string, err error) error {
	return NewError(KindPersistence, account, "", err)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err (or any error in its chain) is an *Error of
// the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsCredentialError reports whether err (or any error in its chain) is a
// credential failure.
func IsCredentialError(err error) bool {
	return IsKind(err, KindCredential)
}

// IsPermanent reports whether err is marked as permanent.
func IsPermanent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Permanent
}
