// Package domain defines the core domain models for ledgersnap.
package domain

import (
	"errors"
	"fmt"
)

// DomainError is an error with a stable code.
//
// Codes are LS-<AREA>-<NNNN>. A number starting with 5 marks corruption or a
// broken invariant, which stops the snapshot pipeline; anything else is
// reported to the caller. Two DomainErrors match under errors.Is when their
// codes are equal, so the sentinels below can be decorated freely.
type DomainError struct {
	Code    string
	Message string
	Details string
	Cause   error
}

func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func (e *DomainError) Error() string {
	msg := "[" + e.Code + "] " + e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

func (e *DomainError) Unwrap() error { return e.Cause }

func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

// WithDetails returns a copy carrying details.
func (e *DomainError) WithDetails(details string) *DomainError {
	c := *e
	c.Details = details
	return &c
}

func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy wrapping cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	c := *e
	c.Cause = cause
	return &c
}

// IsFatal reports whether the code is in the 5xxx class.
func (e *DomainError) IsFatal() bool {
	n := len(e.Code)
	return n >= 4 && e.Code[n-4] == '5'
}

// IsFatal reports whether err wraps a fatal DomainError.
func IsFatal(err error) bool {
	var de *DomainError
	return errors.As(err, &de) && de.IsFatal()
}

// CodeOf returns the code of the outermost DomainError in err, or "".
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Fork set errors.
var (
	ErrBankNotFound   = NewDomainError("LS-FORK-4040", "bank not found")
	ErrParentNotFound = NewDomainError("LS-FORK-4041", "parent bank not found")
	ErrDuplicateSlot  = NewDomainError("LS-FORK-4090", "bank already exists for slot")
	ErrInvalidRoot    = NewDomainError("LS-FORK-4000", "invalid root")
)

// Bank errors.
var (
	ErrBankNotFrozen      = NewDomainError("LS-BANK-4000", "bank is not frozen")
	ErrBankFrozen         = NewDomainError("LS-BANK-4001", "bank is frozen")
	ErrBankNotRooted      = NewDomainError("LS-BANK-4002", "bank is not rooted")
	ErrInvalidSlot        = NewDomainError("LS-BANK-4003", "invalid slot")
	ErrInsufficientFunds  = NewDomainError("LS-BANK-4004", "insufficient funds")
	ErrDuplicateSignature = NewDomainError("LS-BANK-4090", "transaction already processed")
)

// Accounts errors.
var (
	ErrInvalidIndexConfig = NewDomainError("LS-ACCT-4000", "inconsistent account index configuration")
	ErrSlotRooted         = NewDomainError("LS-ACCT-4001", "cannot purge a rooted slot")
	ErrStorageCorrupted   = NewDomainError("LS-ACCT-5000", "account storage corrupted")
)

// Snapshot errors.
var (
	ErrBankSnapshotNotFound = NewDomainError("LS-SNAP-4040", "bank snapshot not found")
	ErrNoFullArchive        = NewDomainError("LS-SNAP-4041", "no full snapshot archive found")
	ErrBaseArchiveMissing   = NewDomainError("LS-SNAP-4042", "base full snapshot archive missing")
	ErrInvalidArchiveName   = NewDomainError("LS-SNAP-4000", "invalid snapshot archive name")
	ErrInvalidIncremental   = NewDomainError("LS-SNAP-4001", "invalid incremental snapshot")
	ErrUnsupportedVersion   = NewDomainError("LS-SNAP-4002", "unsupported snapshot version")
	ErrUnsupportedFormat    = NewDomainError("LS-SNAP-4003", "unsupported archive format")
	ErrAccountsHashMismatch = NewDomainError("LS-SNAP-5000", "accounts hash mismatch")
	ErrArchiveCorrupted     = NewDomainError("LS-SNAP-5001", "snapshot archive corrupted")
)

// Argument errors.
var (
	ErrInvalidArgument = NewDomainError("LS-ARG-1001", "invalid argument")
)
