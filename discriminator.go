package barrel

import (
	"regexp"

	"github.com/bjaus/barrel/match"
)

// Discriminator decides cheaply whether a source should parse a message.
type Discriminator interface {
	Match(v View) bool
}

// DiscriminatorFunc is a function adapter for Discriminator.
type DiscriminatorFunc func(v View) bool

// Match implements the Discriminator interface.
func (f DiscriminatorFunc) Match(v View) bool { return f(v) }

// Always matches every message.
func Always() Discriminator {
	return DiscriminatorFunc(func(View) bool { return true })
}

// HasFields matches when every path exists.
func HasFields(paths ...string) Discriminator {
	return DiscriminatorFunc(func(v View) bool {
		for _, p := range paths {
			if !v.HasField(p) {
				return false
			}
		}
		return true
	})
}

// FieldEquals matches when the string at path equals value.
func FieldEquals(path, value string) Discriminator {
	return DiscriminatorFunc(func(v View) bool {
		s, ok := v.GetString(path)
		return ok && s == value
	})
}

// FieldMatches matches when the string at path matches re.
func FieldMatches(path string, re *regexp.Regexp) Discriminator {
	return DiscriminatorFunc(func(v View) bool {
		s, ok := v.GetString(path)
		return ok && re.MatchString(s)
	})
}

// Matches runs a full pattern match against the decoded message. It is
// the most expensive discriminator; prefer field checks when they suffice.
func Matches(p match.Pattern) Discriminator {
	return DiscriminatorFunc(func(v View) bool {
		msg, ok := v.Get("")
		if !ok {
			return false
		}
		res, err := match.Find(msg, p)
		return err == nil && !res.Empty()
	})
}

// And matches when all discriminators match.
func And(ds ...Discriminator) Discriminator {
	return DiscriminatorFunc(func(v View) bool {
		for _, d := range ds {
			if !d.Match(v) {
				return false
			}
		}
		return true
	})
}

// Or matches when any discriminator matches.
func Or(ds ...Discriminator) Discriminator {
	return DiscriminatorFunc(func(v View) bool {
		for _, d := range ds {
			if d.Match(v) {
				return true
			}
		}
		return false
	})
}

// Not inverts d.
func Not(d Discriminator) Discriminator {
	return DiscriminatorFunc(func(v View) bool { return !d.Match(v) })
}
