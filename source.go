package barrel

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Source turns raw bytes from a transport into a message.
//
// Sources are registered with Engine.AddSource and matched using their
// Discriminator before Parse is called, so one queue can carry several
// envelope formats.
//
// Example:
//
//	type slackSource struct{}
//
//	func (slackSource) Name() string { return "slack" }
//
//	func (slackSource) Discriminator() barrel.Discriminator {
//	    return barrel.FieldEquals("type", "event_callback")
//	}
//
//	func (slackSource) Parse(raw []byte) (barrel.Inbound, error) {
//	    ...
//	}
type Source interface {
	// Name identifies the source in events, hooks and logs.
	Name() string

	// Discriminator returns a predicate for cheap message detection.
	Discriminator() Discriminator

	// Parse extracts the message to route.
	Parse(raw []byte) (Inbound, error)
}

// Inbound is a parsed message.
type Inbound struct {
	// Message is the JSON tree matched against listener patterns.
	Message any

	// Responder, when set, is used if the transport supplied none. Sources
	// for request/response envelopes set it to answer through the envelope.
	Responder Responder
}

// SourceFunc creates a Source from a name, discriminator and parse function.
//
//	e.AddSource(barrel.SourceFunc("legacy", barrel.HasFields("event"), parse))
func SourceFunc(name string, disc Discriminator, parse func([]byte) (Inbound, error)) Source {
	return &sourceFunc{name: name, disc: disc, parse: parse}
}

type sourceFunc struct {
	name  string
	disc  Discriminator
	parse func([]byte) (Inbound, error)
}

func (s *sourceFunc) Name() string                      { return s.name }
func (s *sourceFunc) Discriminator() Discriminator      { return s.disc }
func (s *sourceFunc) Parse(raw []byte) (Inbound, error) { return s.parse(raw) }

// RawSource routes any valid JSON document as is.
func RawSource() Source {
	return SourceFunc("raw", Always(), func(raw []byte) (Inbound, error) {
		if !gjson.ValidBytes(raw) {
			return Inbound{}, ErrInvalidJSON
		}
		return Inbound{Message: gjson.ParseBytes(raw).Value()}, nil
	})
}

// EnvelopeSource routes the value at path (gjson syntax) of messages that
// disc accepts, e.g. the "detail" of an EventBridge event.
func EnvelopeSource(name string, disc Discriminator, path string) Source {
	return SourceFunc(name, disc, func(raw []byte) (Inbound, error) {
		r := gjson.GetBytes(raw, path)
		if !r.Exists() {
			return Inbound{}, fmt.Errorf("%s: missing %q", name, path)
		}
		return Inbound{Message: r.Value()}, nil
	})
}

// schedulerSource tags timer events.
var schedulerSource = SourceFunc("scheduler", Always(), func([]byte) (Inbound, error) {
	return Inbound{}, fmt.Errorf("scheduler messages are not parsed")
})

func sourceName(src Source) string {
	if src == nil {
		return ""
	}
	return src.Name()
}
