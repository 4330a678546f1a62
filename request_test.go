package barrel

import (
	"context"
	"encoding/base64"
	"io"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticRequest(spec RequestSpec) RequestFunc {
	return func(...any) (RequestSpec, error) { return spec, nil }
}

func basicHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestBuildRequest_Authorization(t *testing.T) {
	svcBasic := &BasicAuth{Username: "svc", Password: "pw"}
	reqBasic := &BasicAuth{Username: "req", Password: "pw"}

	tests := map[string]struct {
		svc  Service
		spec RequestSpec
		want string
	}{
		"none":                            {want: ""},
		"service bearer":                  {svc: Service{Bearer: "s"}, want: "Bearer s"},
		"request bearer beats service":    {svc: Service{Bearer: "s"}, spec: RequestSpec{Bearer: "r"}, want: "Bearer r"},
		"service basic beats any bearer":  {svc: Service{Bearer: "s", Basic: svcBasic}, spec: RequestSpec{Bearer: "r"}, want: basicHeader("svc", "pw")},
		"request basic beats everything":  {svc: Service{Bearer: "s", Basic: svcBasic}, spec: RequestSpec{Bearer: "r", Basic: reqBasic}, want: basicHeader("req", "pw")},
		"auth overrides explicit headers": {svc: Service{Bearer: "s"}, spec: RequestSpec{Headers: map[string]string{"Authorization": "Token x"}}, want: "Bearer s"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tc.svc.Name = "api"
			tc.spec.URL = "https://api.example.com"
			tc.svc.Requests = map[string]RequestFunc{"get": staticRequest(tc.spec)}

			req, err := BuildRequest(tc.svc, "get")
			require.NoError(t, err)
			assert.Equal(t, tc.want, req.Headers["Authorization"])
		})
	}
}

func TestBuildRequest_Headers(t *testing.T) {
	svc := Service{
		Name:    "api",
		Headers: map[string]string{"X-Team": "core", "Accept": "text/plain"},
		Requests: map[string]RequestFunc{
			"get": staticRequest(RequestSpec{
				URL:     "https://api.example.com",
				Headers: map[string]string{"Accept": "application/json"},
			}),
		},
	}

	req, err := BuildRequest(svc, "get")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Team": "core", "Accept": "application/json"}, req.Headers)
	assert.Equal(t, "GET", req.Method, "method defaults to GET")
	assert.Nil(t, req.Body)
	assert.Equal(t, "text/plain", svc.Headers["Accept"], "service headers are not modified")
}

func TestBuildRequest_Body(t *testing.T) {
	data := map[string]any{
		"name": "ada",
		"tags": []any{"x", "y"},
		"meta": map[string]any{"age": 36, "nil": nil},
	}

	t.Run("json", func(t *testing.T) {
		svc := Service{Name: "api", Requests: map[string]RequestFunc{
			"post": staticRequest(RequestSpec{Method: "post", URL: "https://api.example.com", Data: data}),
		}}
		req, err := BuildRequest(svc, "post")
		require.NoError(t, err)
		assert.Equal(t, "POST", req.Method)
		assert.Equal(t, contentTypeJSON, req.Headers["Content-Type"])
		assert.JSONEq(t, `{"name":"ada","tags":["x","y"],"meta":{"age":36,"nil":null}}`, string(req.Body))
	})

	t.Run("url encoded service", func(t *testing.T) {
		svc := Service{Name: "api", URLEncoded: true, Requests: map[string]RequestFunc{
			"post": staticRequest(RequestSpec{Method: "POST", URL: "https://api.example.com", Data: data}),
		}}
		req, err := BuildRequest(svc, "post")
		require.NoError(t, err)
		assert.Equal(t, contentTypeForm, req.Headers["Content-Type"])

		form, err := url.ParseQuery(string(req.Body))
		require.NoError(t, err)
		assert.Equal(t, url.Values{
			"name":      {"ada"},
			"tags[0]":   {"x"},
			"tags[1]":   {"y"},
			"meta[age]": {"36"},
			"meta[nil]": {""},
		}, form)
	})

	t.Run("url encoded keeps explicit content type", func(t *testing.T) {
		svc := Service{Name: "api", Requests: map[string]RequestFunc{
			"post": staticRequest(RequestSpec{
				URL:        "https://api.example.com",
				Data:       map[string]any{"a": 1},
				URLEncoded: true,
				Headers:    map[string]string{"content-type": "application/x-www-form-urlencoded; charset=utf-8"},
			}),
		}}
		req, err := BuildRequest(svc, "post")
		require.NoError(t, err)
		assert.NotContains(t, req.Headers, "Content-Type")
		assert.Equal(t, "a=1", string(req.Body))
	})

	t.Run("raw string", func(t *testing.T) {
		svc := Service{Name: "api", Requests: map[string]RequestFunc{
			"post": staticRequest(RequestSpec{URL: "https://api.example.com", Data: "plain text"}),
		}}
		req, err := BuildRequest(svc, "post")
		require.NoError(t, err)
		assert.Equal(t, "plain text", string(req.Body))
		assert.NotContains(t, req.Headers, "Content-Type")
	})
}

func TestBuildRequest_Errors(t *testing.T) {
	svc := Service{Name: "api", Requests: map[string]RequestFunc{
		"bad": func(...any) (RequestSpec, error) { return RequestSpec{}, assert.AnError },
	}}

	_, err := BuildRequest(svc, "missing")
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = BuildRequest(svc, "bad")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRequest_HTTP(t *testing.T) {
	svc := Service{Name: "api", Requests: map[string]RequestFunc{
		"search": func(args ...any) (RequestSpec, error) {
			return RequestSpec{
				Method: "PUT",
				URL:    "https://api.example.com/search?lang=en",
				Query:  map[string]any{"q": args[0], "filter": map[string]any{"state": "open"}},
				Data:   map[string]any{"ok": true},
			}, nil
		},
	}}

	req, err := BuildRequest(svc, "search", "barrel")
	require.NoError(t, err)
	hr, err := req.HTTP(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "PUT", hr.Method)
	q := hr.URL.Query()
	assert.Equal(t, "en", q.Get("lang"))
	assert.Equal(t, "barrel", q.Get("q"))
	assert.Equal(t, "open", q.Get("filter[state]"))
	assert.Equal(t, contentTypeJSON, hr.Header.Get("Content-Type"))

	body, err := io.ReadAll(hr.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}
