package barrel

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/bjaus/barrel/logx"
	"github.com/bjaus/barrel/match"
)

type RegistrySuite struct {
	suite.Suite
	reg  *Registry
	noop HandlerFunc
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.reg = NewRegistry(logx.Nop())
	s.noop = func(context.Context, *Event) error { return nil }
}

func (s *RegistrySuite) TestAddDeduplicatesByKey() {
	added, err := s.reg.Add(match.Literal("Order"), s.noop)
	s.Require().NoError(err)
	s.Assert().True(added)

	added, err = s.reg.Add(match.Literal("order"), s.noop)
	s.Require().NoError(err)
	s.Assert().False(added, "keys compare case-insensitively")

	added, err = s.reg.Add(match.MustPath("order"), s.noop)
	s.Require().NoError(err)
	s.Assert().True(added, "a path is not a literal")

	s.Assert().Equal(2, s.reg.Len())
}

func (s *RegistrySuite) TestRegexpAndSlashedStringAreDistinct() {
	var re, lit events
	added, err := s.reg.Add(match.MustObject(match.Shape{"status": regexp.MustCompile("err")}), re.handler(nil))
	s.Require().NoError(err)
	s.Assert().True(added)

	added, err = s.reg.Add(match.MustObject(match.Shape{"status": "/err/"}), lit.handler(nil))
	s.Require().NoError(err)
	s.Assert().True(added)
	s.Assert().Equal(2, s.reg.Len())

	s.Assert().Len(s.reg.Resolve(map[string]any{"status": "server error"}), 1)
	s.Assert().Len(s.reg.Resolve(map[string]any{"status": "/err/"}), 2)
}

func (s *RegistrySuite) TestAddRejects() {
	_, err := s.reg.Add(match.Pattern{}, s.noop)
	s.Assert().ErrorIs(err, match.ErrParameterMismatch)

	_, err = s.reg.Add(match.Literal("x"), nil)
	s.Assert().Error(err)

	_, err = s.reg.Add(match.Literal("x"), s.noop, Where("value >"))
	s.Assert().Error(err)
	s.Assert().Equal(0, s.reg.Len())
}

func (s *RegistrySuite) TestResolveKeepsRegistrationOrder() {
	for _, p := range []match.Pattern{
		match.Literal("zeta"),
		match.MustObject(match.Shape{"kind": "alpha"}),
		match.MustPath("$.zeta.id"),
	} {
		_, err := s.reg.Add(p, s.noop)
		s.Require().NoError(err)
	}

	got := s.reg.Resolve(map[string]any{"kind": "alpha", "zeta": map[string]any{"id": "z1"}})
	s.Require().Len(got, 3)
	s.Assert().Equal("zeta", got[0].Pattern.String())
	s.Assert().Equal(match.KindShape, got[1].Pattern.Kind())
	s.Assert().Equal("$.zeta.id", got[2].Pattern.String())

	v, _ := got[2].Values.First()
	s.Assert().Equal("z1", v)
}

func (s *RegistrySuite) TestResolveTrimsShapes() {
	shape := match.MustObject(match.Shape{"user": match.Shape{"id": match.Any}})
	_, err := s.reg.Add(shape, s.noop)
	s.Require().NoError(err)
	_, err = s.reg.Add(match.MustObject(match.Shape{"user": match.Any}), s.noop, Trim(false))
	s.Require().NoError(err)

	msg := map[string]any{"user": map[string]any{"id": "u1", "name": "ada"}, "extra": true}
	got := s.reg.Resolve(msg)
	s.Require().Len(got, 2)

	trimmed, _ := got[0].Values.First()
	s.Assert().Equal(map[string]any{"user": map[string]any{"id": "u1"}}, trimmed)
	whole, _ := got[1].Values.First()
	s.Assert().Equal(msg, whole)
}

func (s *RegistrySuite) TestResolveConditions() {
	_, err := s.reg.Add(match.MustObject(match.Shape{"price": match.Any}), s.noop,
		Where(`value.price < 10 && message.store == "main"`))
	s.Require().NoError(err)
	_, err = s.reg.Add(match.Literal("sku"), s.noop, Filter(func(_ any, values match.Result) bool {
		v, _ := values.First()
		str, ok := v.(string)
		return ok && regexp.MustCompile(`^A-`).MatchString(str)
	}))
	s.Require().NoError(err)

	tests := map[string]struct {
		msg  map[string]any
		want int
	}{
		"both accept":    {map[string]any{"price": 5.0, "store": "main", "sku": "A-1"}, 2},
		"where rejects":  {map[string]any{"price": 50.0, "store": "main", "sku": "A-1"}, 1},
		"filter rejects": {map[string]any{"price": 5.0, "store": "main", "sku": "B-1"}, 1},
		"where errors":   {map[string]any{"price": "cheap", "store": "main"}, 0},
	}
	for name, tc := range tests {
		s.Run(name, func() {
			s.Assert().Len(s.reg.Resolve(tc.msg), tc.want)
		})
	}
}

func (s *RegistrySuite) TestResolveSkipsUnsupportedMessages() {
	_, err := s.reg.Add(match.MustObject(match.Shape{"a": 1}), s.noop)
	s.Require().NoError(err)
	_, err = s.reg.Add(match.Literal("hello"), s.noop)
	s.Require().NoError(err)

	got := s.reg.Resolve("hello")
	s.Require().Len(got, 1)
	s.Assert().Equal(match.KindLiteral, got[0].Pattern.Kind())
}

func (s *RegistrySuite) TestServices() {
	action := func(context.Context, ...any) (any, error) { return nil, nil }
	request := func(...any) (RequestSpec, error) { return RequestSpec{}, nil }

	tests := map[string]struct {
		svc  Service
		want error
	}{
		"valid":    {Service{Name: "a", Actions: map[string]ActionFunc{"x": action}}, nil},
		"no name":  {Service{Actions: map[string]ActionFunc{"x": action}}, ErrServiceName},
		"empty":    {Service{Name: "a"}, ErrServiceEmpty},
		"overlap":  {Service{Name: "a", Actions: map[string]ActionFunc{"x": action}, Requests: map[string]RequestFunc{"x": request}}, ErrServiceOverlap},
		"requests": {Service{Name: "a", Requests: map[string]RequestFunc{"y": request}}, nil},
	}
	for name, tc := range tests {
		s.Run(name, func() {
			err := s.reg.RegisterService(tc.svc)
			if tc.want == nil {
				s.Assert().NoError(err)
				return
			}
			s.Assert().ErrorIs(err, tc.want)
		})
	}
}

func (s *RegistrySuite) TestOverlapNamesTheAction() {
	err := (Service{
		Name:     "crm",
		Actions:  map[string]ActionFunc{"sync": nil, "push": nil},
		Requests: map[string]RequestFunc{"sync": nil, "push": nil},
	}).Validate()

	var overlap *OverlapError
	s.Require().ErrorAs(err, &overlap)
	s.Assert().Equal("push", overlap.Name, "first overlap in sorted order")
}

func (s *RegistrySuite) TestRegisterServicesKeepsValidOnes() {
	err := s.reg.RegisterServices(
		Service{Name: "ok", Actions: map[string]ActionFunc{"x": nil}},
		Service{Name: "bad"},
	)
	s.Assert().ErrorIs(err, ErrServiceEmpty)

	_, ok := s.reg.Service("ok")
	s.Assert().True(ok)
	_, ok = s.reg.Service("bad")
	s.Assert().False(ok)
}

func (s *RegistrySuite) TestServiceIsCopied() {
	headers := map[string]string{"X-Team": "core"}
	s.Require().NoError(s.reg.RegisterService(Service{
		Name:    "a",
		Headers: headers,
		Actions: map[string]ActionFunc{"x": nil},
	}))
	headers["X-Team"] = "changed"

	svc, _ := s.reg.Service("a")
	s.Assert().Equal("core", svc.Headers["X-Team"])
}
