package barrel

import (
	"context"
	"maps"
	"sort"
)

// ActionFunc is a local service operation.
type ActionFunc func(ctx context.Context, args ...any) (any, error)

// RequestFunc builds the description of an outbound HTTP request from the
// call arguments.
type RequestFunc func(args ...any) (RequestSpec, error)

// BasicAuth holds HTTP basic credentials.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Service is a named group of local actions and outbound requests.
// Headers and auth set here apply to every request of the service.
type Service struct {
	Name string

	Headers    map[string]string
	Bearer     string
	Basic      *BasicAuth
	URLEncoded bool

	// RateLimit caps outbound requests per second; zero means unlimited.
	RateLimit float64
	Burst     int

	Actions  map[string]ActionFunc
	Requests map[string]RequestFunc
}

// Validate checks the service before it is stored: a name, at least one
// action or request, and no name used for both.
func (s Service) Validate() error {
	if s.Name == "" {
		return ErrServiceName
	}
	if len(s.Actions) == 0 && len(s.Requests) == 0 {
		return ErrServiceEmpty
	}
	names := make([]string, 0, len(s.Actions))
	for name := range s.Actions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := s.Requests[name]; ok {
			return &OverlapError{Service: s.Name, Name: name}
		}
	}
	return nil
}

func (s Service) clone() Service {
	cp := s
	cp.Headers = maps.Clone(s.Headers)
	cp.Actions = maps.Clone(s.Actions)
	cp.Requests = maps.Clone(s.Requests)
	if s.Basic != nil {
		b := *s.Basic
		cp.Basic = &b
	}
	return cp
}
