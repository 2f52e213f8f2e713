package event

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type Kind `json:"type"`
}

// Decode parses one wire message. Text fields are cleaned with CleanText.
// Errors for undecodable or unknown messages wrap ErrMalformed.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, malformed("", "", err.Error())
	}

	var ev Event
	switch env.Type {
	case KindAccountObserved:
		ev = &AccountObserved{}
	case KindChannelLinksObserved:
		ev = &ChannelLinksObserved{}
	case KindGiftObserved:
		ev = &GiftObserved{}
	case KindStreamComplete:
		return &StreamComplete{}, nil
	case KindStreamError:
		ev = &StreamError{}
	case "":
		return nil, malformed("", "type", "missing")
	default:
		return nil, malformed(env.Type, "type", "unsupported")
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, malformed(env.Type, "", err.Error())
	}
	clean(ev)
	return ev, nil
}

// Encode renders ev in wire form, including its type discriminator.
func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case *AccountObserved:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*AccountObserved
		}{e.Kind(), e})
	case *ChannelLinksObserved:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*ChannelLinksObserved
		}{e.Kind(), e})
	case *GiftObserved:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*GiftObserved
		}{e.Kind(), e})
	case *StreamComplete:
		return json.Marshal(envelope{Type: KindStreamComplete})
	case *StreamError:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*StreamError
		}{e.Kind(), e})
	}
	return nil, fmt.Errorf("encode %T: %w", ev, ErrMalformed)
}

func clean(ev Event) {
	switch e := ev.(type) {
	case *AccountObserved:
		e.Username = CleanText(e.Username)
		e.FirstName = CleanText(e.FirstName)
		e.LastName = CleanText(e.LastName)
		e.Bio = CleanText(e.Bio)
	case *ChannelLinksObserved:
		for i, h := range e.ChannelHandles {
			e.ChannelHandles[i] = CleanText(h)
		}
	case *GiftObserved:
		for i := range e.Gifts {
			e.Gifts[i].Message = CleanText(e.Gifts[i].Message)
		}
		for id, ident := range e.ResolvedSenders {
			e.ResolvedSenders[id] = Identity{
				Username:  CleanText(ident.Username),
				FirstName: CleanText(ident.FirstName),
				LastName:  CleanText(ident.LastName),
			}
		}
	case *StreamError:
		e.Message = CleanText(e.Message)
	}
}
