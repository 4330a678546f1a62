package barrel

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/bjaus/barrel/match"
)

// RequestSpec is what a RequestFunc returns. Bearer, Basic and URLEncoded
// are resolved by BuildRequest and do not survive into the Request.
type RequestSpec struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]any
	Data    any

	Bearer     string
	Basic      *BasicAuth
	URLEncoded bool
}

// Request is a fully resolved outbound request.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   url.Values
	Body    []byte
}

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// BuildRequest runs the named request of svc and merges in the service
// defaults. Request headers override service headers. Authorization is
// resolved in a fixed order, each step overwriting the last: service
// bearer, request bearer, service basic, request basic.
func BuildRequest(svc Service, name string, args ...any) (*Request, error) {
	fn, ok := svc.Requests[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAction, svc.Name, name)
	}
	spec, err := fn(args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", svc.Name, name, err)
	}
	return resolve(svc, spec)
}

func resolve(svc Service, spec RequestSpec) (*Request, error) {
	headers := maps.Clone(svc.Headers)
	if headers == nil {
		headers = make(map[string]string)
	}
	maps.Copy(headers, spec.Headers)

	if svc.Bearer != "" {
		headers["Authorization"] = "Bearer " + svc.Bearer
	}
	if spec.Bearer != "" {
		headers["Authorization"] = "Bearer " + spec.Bearer
	}
	if svc.Basic != nil {
		headers["Authorization"] = basicAuth(svc.Basic)
	}
	if spec.Basic != nil {
		headers["Authorization"] = basicAuth(spec.Basic)
	}

	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}
	query, err := match.Normalize(spec.Query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	req := &Request{
		Method:  method,
		URL:     spec.URL,
		Headers: headers,
		Query:   flatten(query),
	}

	if spec.Data == nil {
		return req, nil
	}
	if svc.URLEncoded || spec.URLEncoded {
		form, err := match.Normalize(spec.Data)
		if err != nil {
			return nil, fmt.Errorf("encode form: %w", err)
		}
		req.Body = []byte(flatten(form).Encode())
		setDefault(headers, "Content-Type", contentTypeForm)
		return req, nil
	}
	switch body := spec.Data.(type) {
	case []byte:
		req.Body = body
	case string:
		req.Body = []byte(body)
	default:
		raw, err := jsonAPI.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		req.Body = raw
		setDefault(headers, "Content-Type", contentTypeJSON)
	}
	return req, nil
}

// HTTP converts r into an *http.Request.
func (r *Request) HTTP(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range r.Headers {
		hr.Header.Set(k, v)
	}
	return hr, nil
}

func basicAuth(b *BasicAuth) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(b.Username+":"+b.Password))
}

func setDefault(headers map[string]string, key, value string) {
	for k := range headers {
		if strings.EqualFold(k, key) {
			return
		}
	}
	headers[key] = value
}

// flatten encodes nested maps and slices with bracket keys: a[b]=1, a[0]=x.
func flatten(v any) url.Values {
	out := url.Values{}
	flattenInto(out, "", v)
	return out
}

func flattenInto(out url.Values, prefix string, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenInto(out, joinKey(prefix, k), t[k])
		}
	case []any:
		for i, e := range t {
			flattenInto(out, joinKey(prefix, strconv.Itoa(i)), e)
		}
	case nil:
		if prefix != "" {
			out.Add(prefix, "")
		}
	default:
		if prefix == "" {
			return
		}
		out.Add(prefix, cast.ToString(t))
	}
}

func joinKey(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + "[" + k + "]"
}
