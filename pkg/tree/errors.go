package tree

import (
	"errors"
	"fmt"

	"github.com/hydranotes/hydra/pkg/store"
)

// Kind classifies a tree operation failure so callers can map it to a response.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound: the block or parent is missing, owned by someone else, or deleted.
	KindNotFound
	// KindInvalidReference: an identifier is not well formed.
	KindInvalidReference
	// KindInvalidOperation: the request is structurally illegal, e.g. a cyclic move.
	KindInvalidOperation
	// KindStoreUnavailable: the store could not be reached or a write failed.
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidReference:
		return "invalid_reference"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindStoreUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every Manager and Query operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidReference = &Error{Kind: KindInvalidReference, Message: "invalid reference"}
	ErrInvalidOperation = &Error{Kind: KindInvalidOperation, Message: "invalid operation"}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable, Message: "store unavailable"}
)

// KindOf returns the kind of err, or KindUnknown if err is not a tree error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func notFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func invalidReference(msg string, err error) error {
	return &Error{Kind: KindInvalidReference, Message: msg, Err: err}
}

func invalidOperation(msg string) error {
	return &Error{Kind: KindInvalidOperation, Message: msg}
}

func tooDeep() error {
	return invalidOperation(fmt.Sprintf("Block tree cannot be deeper than %d levels", store.MaxBlockDepth))
}

// storeError attaches a kind to an error coming back from the store. ErrNotFound
// becomes a NotFound carrying msg ("Block not found" if empty); anything else is
// surfaced as StoreUnavailable with the original error wrapped.
func storeError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		if msg == "" {
			msg = "Block not found"
		}
		return notFound(msg)
	}
	return &Error{Kind: KindStoreUnavailable, Message: "store unavailable", Err: err}
}
