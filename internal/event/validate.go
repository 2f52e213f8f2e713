package event

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every error describing an event that cannot be applied.
var ErrMalformed = errors.New("malformed event")

// MalformedError names the offending event kind and field.
type MalformedError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	kind := string(e.Kind)
	if kind == "" {
		kind = "unknown"
	}
	if e.Field == "" {
		return fmt.Sprintf("malformed %s event: %s", kind, e.Reason)
	}
	return fmt.Sprintf("malformed %s event: %s: %s", kind, e.Field, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

func malformed(kind Kind, field, reason string) error {
	return &MalformedError{Kind: kind, Field: field, Reason: reason}
}

// Validate checks that ev carries every identifier its kind requires.
func Validate(ev Event) error {
	switch e := ev.(type) {
	case nil:
		return malformed("", "", "nil event")
	case *AccountObserved:
		if e == nil {
			return malformed(KindAccountObserved, "", "nil payload")
		}
		if e.ID == "" {
			return malformed(KindAccountObserved, "id", "missing")
		}
	case *ChannelLinksObserved:
		if e == nil {
			return malformed(KindChannelLinksObserved, "", "nil payload")
		}
		if e.ID == "" {
			return malformed(KindChannelLinksObserved, "id", "missing")
		}
	case *GiftObserved:
		if e == nil {
			return malformed(KindGiftObserved, "", "nil payload")
		}
		if e.RecipientID == "" {
			return malformed(KindGiftObserved, "recipient_id", "missing")
		}
	case *StreamComplete, *StreamError:
	default:
		return malformed(ev.Kind(), "type", "unsupported")
	}
	return nil
}
