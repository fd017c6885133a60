package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Params are the positional arguments a task definition passes to its scheduler.
//
// In config files they may be written as JSON/YAML numbers or strings:
//
//	params: [120000, "nightly.sh"]
type Params []string

// ParamError reports a missing or malformed positional parameter.
type ParamError struct {
	Index  int
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("param %d: %s", e.Index, e.Reason)
}

func (p Params) Len() int { return len(p) }

// String returns parameter i as-is.
func (p Params) String(i int) (string, error) {
	if i < 0 || i >= len(p) {
		return "", &ParamError{Index: i, Reason: fmt.Sprintf("missing (have %d)", len(p))}
	}
	return p[i], nil
}

// Int parses parameter i as a base-10 integer.
func (p Params) Int(i int) (int, error) {
	s, err := p.String(i)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &ParamError{Index: i, Reason: fmt.Sprintf("not an integer: %q", s)}
	}
	return n, nil
}

// Duration parses parameter i either as an integer count of unit or as a Go
// duration string ("30s").
func (p Params) Duration(i int, unit time.Duration) (time.Duration, error) {
	s, err := p.String(i)
	if err != nil {
		return 0, err
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * unit, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &ParamError{Index: i, Reason: fmt.Sprintf("not a duration: %q", s)}
	}
	return d, nil
}

// UnmarshalJSON accepts an array of strings, numbers and booleans.
func (p *Params) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*p = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("params: expected array: %w", err)
	}
	out := make(Params, 0, len(raw))
	for i, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(r))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return &ParamError{Index: i, Reason: err.Error()}
		}
		switch x := v.(type) {
		case json.Number:
			out = append(out, x.String())
		case bool:
			out = append(out, strconv.FormatBool(x))
		default:
			return &ParamError{Index: i, Reason: fmt.Sprintf("unsupported type %T", v)}
		}
	}
	*p = out
	return nil
}
