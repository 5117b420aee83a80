package ingest

import "fmt"

// ErrorKind is the tagged variant of an ingest-boundary error.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindSourceNotFound
	KindSourceInactive
	KindMissingSignature
	KindInvalidSignature
	KindStorage
	KindBroker
)

// Error is the typed error surfaced at the ingest boundary. Duplicate
// submissions are NOT an Error — a duplicate fingerprint returns an
// empty, successful delivery list, not an error.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func validationErr(msg string) *Error        { return &Error{Kind: KindValidation, Msg: msg} }
func sourceNotFoundErr() *Error              { return &Error{Kind: KindSourceNotFound, Msg: "source not found"} }
func sourceInactiveErr() *Error              { return &Error{Kind: KindSourceInactive, Msg: "source inactive"} }
func missingSignatureErr() *Error            { return &Error{Kind: KindMissingSignature, Msg: "missing signature"} }
func invalidSignatureErr() *Error            { return &Error{Kind: KindInvalidSignature, Msg: "invalid signature"} }
func storageErr(msg string, err error) *Error { return &Error{Kind: KindStorage, Msg: msg, Err: err} }
func brokerErr(msg string, err error) *Error  { return &Error{Kind: KindBroker, Msg: msg, Err: err} }
