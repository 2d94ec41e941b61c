package command

import (
	"encoding/json"
)

// Request is a verified command payload as issued in phase one.
type Request struct {
	Command   string
	PublicKey string
	Date      int64

	// Raw is the full signed-over payload; commands read their
	// parameters from it.
	Raw map[string]any

	// FilePath is the uploaded attachment for upload-capable routes.
	FilePath string
}

// parseRequest decodes the stored challenge payload.
func parseRequest(payload []byte) (*Request, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	req := &Request{Raw: raw}
	req.Command, _ = raw["command"].(string)
	req.PublicKey, _ = raw["publicKey"].(string)
	if date, ok := raw["date"].(float64); ok {
		req.Date = int64(date)
	}
	return req, nil
}

// Str returns a string parameter, empty when absent or mistyped.
func (r *Request) Str(key string) string {
	v, _ := r.Raw[key].(string)
	return v
}

// Bool returns a boolean parameter.
func (r *Request) Bool(key string) bool {
	v, _ := r.Raw[key].(bool)
	return v
}

// Uint64 returns a numeric parameter. JSON numbers arrive as float64;
// string digits are accepted too since admin tooling sends ids as text.
func (r *Request) Uint64(key string) uint64 {
	switch v := r.Raw[key].(type) {
	case float64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	case string:
		var n uint64
		if err := json.Unmarshal([]byte(v), &n); err == nil {
			return n
		}
	}
	return 0
}

// Int64 returns a signed numeric parameter.
func (r *Request) Int64(key string) int64 {
	switch v := r.Raw[key].(type) {
	case float64:
		return int64(v)
	case string:
		var n int64
		if err := json.Unmarshal([]byte(v), &n); err == nil {
			return n
		}
	}
	return 0
}

// Map returns an object parameter, nil when absent.
func (r *Request) Map(key string) map[string]any {
	v, _ := r.Raw[key].(map[string]any)
	return v
}
