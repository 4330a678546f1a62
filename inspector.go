package barrel

import (
	"errors"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when the input is not valid JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// Inspector examines raw bytes and returns a View for field queries, so
// sources can be told apart before anything is decoded.
type Inspector interface {
	Inspect(raw []byte) (View, error)
}

// View provides read access to a raw message. Paths use gjson syntax.
type View interface {
	// HasField returns true if the path exists in the message.
	HasField(path string) bool

	// GetString returns the string value at path, or false if not found
	// or not a string.
	GetString(path string) (string, bool)

	// GetBytes returns the raw JSON at path, or false if not found.
	GetBytes(path string) ([]byte, bool)

	// Get decodes the value at path into a JSON tree. The path "" or "@this"
	// returns the whole message.
	Get(path string) (any, bool)
}

// JSONInspector returns an Inspector backed by gjson.
func JSONInspector() Inspector {
	return jsonInspector{}
}

type jsonInspector struct{}

func (jsonInspector) Inspect(raw []byte) (View, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidJSON
	}
	return jsonView{raw: raw}, nil
}

type jsonView struct {
	raw []byte
}

func (v jsonView) result(path string) gjson.Result {
	if path == "" {
		path = "@this"
	}
	return gjson.GetBytes(v.raw, path)
}

func (v jsonView) HasField(path string) bool {
	return v.result(path).Exists()
}

func (v jsonView) GetString(path string) (string, bool) {
	r := v.result(path)
	if !r.Exists() || r.Type != gjson.String {
		return "", false
	}
	return r.String(), true
}

func (v jsonView) GetBytes(path string) ([]byte, bool) {
	r := v.result(path)
	if !r.Exists() {
		return nil, false
	}
	return []byte(r.Raw), true
}

func (v jsonView) Get(path string) (any, bool) {
	r := v.result(path)
	if !r.Exists() {
		return nil, false
	}
	return r.Value(), true
}
