package barrel

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type JSONInspectorSuite struct {
	suite.Suite
	view View
}

func TestJSONInspectorSuite(t *testing.T) {
	suite.Run(t, new(JSONInspectorSuite))
}

func (s *JSONInspectorSuite) SetupTest() {
	var err error
	s.view, err = JSONInspector().Inspect([]byte(`{
		"token": "xoxb",
		"type": "event_callback",
		"retries": 2,
		"event": {"type": "message", "text": "hello", "user": {"id": "U1"}}
	}`))
	s.Require().NoError(err)
}

func (s *JSONInspectorSuite) TestRejectsInvalidInput() {
	for name, raw := range map[string][]byte{
		"garbage": []byte(`{not valid}`),
		"empty":   {},
	} {
		s.Run(name, func() {
			_, err := JSONInspector().Inspect(raw)
			s.Assert().ErrorIs(err, ErrInvalidJSON)
		})
	}
}

func (s *JSONInspectorSuite) TestHasField() {
	tests := map[string]bool{
		"type":          true,
		"event.user.id": true,
		"event.channel": false,
		"missing":       false,
	}
	for path, want := range tests {
		s.Run(path, func() {
			s.Assert().Equal(want, s.view.HasField(path))
		})
	}
}

func (s *JSONInspectorSuite) TestGetString() {
	got, ok := s.view.GetString("event.text")
	s.Require().True(ok)
	s.Assert().Equal("hello", got)

	_, ok = s.view.GetString("retries")
	s.Assert().False(ok, "numbers are not strings")

	_, ok = s.view.GetString("missing")
	s.Assert().False(ok)
}

func (s *JSONInspectorSuite) TestGetBytes() {
	got, ok := s.view.GetBytes("retries")
	s.Require().True(ok)
	s.Assert().Equal("2", string(got))

	got, ok = s.view.GetBytes("token")
	s.Require().True(ok)
	s.Assert().Equal(`"xoxb"`, string(got))
}

func (s *JSONInspectorSuite) TestGetDecodesTrees() {
	got, ok := s.view.Get("event.user")
	s.Require().True(ok)
	s.Assert().Equal(map[string]any{"id": "U1"}, got)

	whole, ok := s.view.Get("")
	s.Require().True(ok)
	s.Assert().Equal(2.0, whole.(map[string]any)["retries"])

	_, ok = s.view.Get("event.missing")
	s.Assert().False(ok)
}
