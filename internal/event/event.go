// Package event defines the discovery events a scan stream produces and the
// JSON wire format they travel in.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind discriminates event payloads on the wire.
type Kind string

const (
	KindAccountObserved      Kind = "account-observed"
	KindChannelLinksObserved Kind = "account-channel-links-observed"
	KindGiftObserved         Kind = "gift-observed"
	KindStreamComplete       Kind = "stream-complete"
	KindStreamError          Kind = "stream-error"
)

// Event is one message of a scan stream.
type Event interface {
	Kind() Kind
}

// ID is a platform identifier. The upstream sends ids either as JSON strings
// or as JSON numbers; both decode to the same textual form.
type ID string

// UnmarshalJSON accepts a string, an integer or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// AccountObserved reports a resolved account profile.
type AccountObserved struct {
	ID         ID     `json:"id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Bio        string `json:"bio,omitempty"`
	IsBot      bool   `json:"is_bot,omitempty"`
	FoundViaID ID     `json:"found_via_id,omitempty"`
}

func (*AccountObserved) Kind() Kind { return KindAccountObserved }

// ChannelLinksObserved reports the channels an account links to.
type ChannelLinksObserved struct {
	ID             ID       `json:"id"`
	ChannelHandles []string `json:"channel_handles"`
}

func (*ChannelLinksObserved) Kind() Kind { return KindChannelLinksObserved }

// Gift is a single received gift. SenderID is empty for anonymous gifts.
type Gift struct {
	SenderID ID     `json:"sender_id,omitempty"`
	GiftID   ID     `json:"gift_id,omitempty"`
	Date     string `json:"date,omitempty"`
	Message  string `json:"message,omitempty"`
	Stars    int64  `json:"stars,omitempty"`
}

// Identity is the profile the upstream resolved for a gift sender.
type Identity struct {
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// GiftObserved reports the gifts displayed on a recipient's profile.
type GiftObserved struct {
	RecipientID     ID                  `json:"recipient_id"`
	Gifts           []Gift              `json:"gifts"`
	ResolvedSenders map[string]Identity `json:"resolved_senders,omitempty"`
}

func (*GiftObserved) Kind() Kind { return KindGiftObserved }

// Sender returns the resolved identity for a sender id, if any.
func (g *GiftObserved) Sender(id ID) (Identity, bool) {
	ident, ok := g.ResolvedSenders[string(id)]
	return ident, ok
}

// StreamComplete marks the normal end of a target's stream.
type StreamComplete struct{}

func (*StreamComplete) Kind() Kind { return KindStreamComplete }

// StreamError reports an upstream failure for the current target.
type StreamError struct {
	Message string `json:"message"`
}

func (*StreamError) Kind() Kind { return KindStreamError }

// IsControl reports whether ev drives the stream lifecycle rather than the graph.
func IsControl(ev Event) bool {
	switch ev.(type) {
	case *StreamComplete, *StreamError:
		return true
	}
	return false
}
