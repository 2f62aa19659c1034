package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
)

// Decode parses one application payload.
//
// On rejection it returns a *RejectError; the event is nil except for an
// unknown type discriminant, which yields Unrecognized alongside the error.
func Decode(raw []byte) (Event, error) {
	if len(raw) > MaxPayloadBytes {
		return nil, reject(ReasonTooLarge, "")
	}
	if err := checkShape(raw); err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, reject(ReasonMalformed, "")
	}

	typ, err := stringField(fields, "type", true)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeCursor:
		return decodeCursor(fields)
	case TypeJoin:
		return decodeJoin(fields)
	case TypeLeave:
		id, err := stringField(fields, "user_id", true)
		if err != nil {
			return nil, err
		}
		return Leave{Identity: id}, nil
	case TypeHostConfig:
		return decodeHostConfig(fields)
	}

	if IsHostType(typ) {
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		return HostEvent{Type: typ, Raw: cp}, nil
	}
	return Unrecognized{Type: typ}, reject(ReasonUnknownType, "type")
}

func decodeCursor(fields map[string]json.RawMessage) (Event, error) {
	var (
		ev  CursorUpdate
		err error
	)
	if ev.Identity, err = stringField(fields, "user_id", true); err != nil {
		return nil, err
	}
	if ev.Name, err = stringField(fields, "name", false); err != nil {
		return nil, err
	}
	if ev.Colour, err = stringField(fields, "colour", true); err != nil {
		return nil, err
	}
	if ev.X, err = numberField(fields, "x", true); err != nil {
		return nil, err
	}
	if ev.Y, err = numberField(fields, "y", true); err != nil {
		return nil, err
	}
	b, err := intField(fields, "button", false)
	if err != nil {
		return nil, err
	}
	ev.Button = Button(b)
	return ev, nil
}

func decodeJoin(fields map[string]json.RawMessage) (Event, error) {
	var (
		ev  Join
		err error
	)
	if ev.Identity, err = stringField(fields, "user_id", true); err != nil {
		return nil, err
	}
	if ev.Name, err = stringField(fields, "name", false); err != nil {
		return nil, err
	}
	if ev.Colour, err = stringField(fields, "colour", true); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeHostConfig(fields map[string]json.RawMessage) (Event, error) {
	var (
		ev  HostConfig
		err error
	)
	if ev.AspectRatio, err = numberField(fields, "aspect_ratio", true); err != nil {
		return nil, err
	}
	if ev.MonitorName, err = stringField(fields, "monitor_name", false); err != nil {
		return nil, err
	}
	return ev, nil
}

// Encode serializes an event into its flat wire form.
func Encode(ev Event) ([]byte, error) {
	var v any
	switch e := ev.(type) {
	case CursorUpdate:
		v = CursorPayload{Type: TypeCursor, UserID: e.Identity, Name: e.Name, Colour: e.Colour, X: e.X, Y: e.Y, Button: int(e.Button)}
	case Join:
		v = JoinPayload{Type: TypeJoin, UserID: e.Identity, Name: e.Name, Colour: e.Colour}
	case Leave:
		v = LeavePayload{Type: TypeLeave, UserID: e.Identity}
	case HostConfig:
		v = HostConfigPayload{Type: TypeHostConfig, AspectRatio: e.AspectRatio, MonitorName: e.MonitorName}
	case HostEvent:
		if !IsHostType(e.Type) {
			return nil, reject(ReasonUnknownType, "type")
		}
		if len(e.Raw) > MaxPayloadBytes {
			return nil, reject(ReasonTooLarge, "")
		}
		return e.Raw, nil
	default:
		return nil, reject(ReasonUnknownType, "type")
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(b) > MaxPayloadBytes {
		return nil, reject(ReasonTooLarge, "")
	}
	return b, nil
}

// DecodeHostPayload strictly unmarshals an orchestration payload into dst.
// Unknown fields and trailing data are rejected.
func DecodeHostPayload(raw json.RawMessage, dst any) error {
	if len(raw) > MaxPayloadBytes {
		return reject(ReasonTooLarge, "")
	}
	if err := checkShape(raw); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return reject(ReasonFieldType, te.Field)
		}
		return reject(ReasonMalformed, "")
	}
	return nil
}

// checkShape verifies raw is exactly one JSON object nested at most MaxDepth deep.
func checkShape(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	// Numbers stay literals here; range checks belong to the field readers.
	dec.UseNumber()
	depth := 0
	seen := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return reject(ReasonMalformed, "")
		}
		if seen && depth == 0 {
			// A second top-level value.
			return reject(ReasonMalformed, "")
		}

		d, isDelim := tok.(json.Delim)
		if !seen {
			if !isDelim || d != '{' {
				return reject(ReasonMalformed, "")
			}
			seen = true
		}
		if !isDelim {
			continue
		}
		switch d {
		case '{', '[':
			depth++
			if depth > MaxDepth {
				return reject(ReasonTooDeep, "")
			}
		case '}', ']':
			depth--
		}
	}
	if !seen || depth != 0 {
		return reject(ReasonMalformed, "")
	}
	return nil
}

// ---- strict field readers ----

func stringField(fields map[string]json.RawMessage, name string, required bool) (string, error) {
	raw, ok := fields[name]
	if !ok {
		if required {
			return "", reject(ReasonMissingField, name)
		}
		return "", nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", reject(ReasonFieldType, name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", reject(ReasonFieldType, name)
	}
	return s, nil
}

func numberField(fields map[string]json.RawMessage, name string, required bool) (float64, error) {
	raw, ok := fields[name]
	if !ok {
		if required {
			return 0, reject(ReasonMissingField, name)
		}
		return 0, nil
	}
	raw = bytes.TrimSpace(raw)
	if !isNumberLiteral(raw) {
		return 0, reject(ReasonFieldType, name)
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, reject(ReasonFieldType, name)
	}
	return f, nil
}

func intField(fields map[string]json.RawMessage, name string, required bool) (int, error) {
	raw, ok := fields[name]
	if !ok {
		if required {
			return 0, reject(ReasonMissingField, name)
		}
		return 0, nil
	}
	raw = bytes.TrimSpace(raw)
	if !isNumberLiteral(raw) || bytes.ContainsAny(raw, ".eE") {
		return 0, reject(ReasonFieldType, name)
	}
	n, err := strconv.ParseInt(string(raw), 10, 32)
	if err != nil {
		return 0, reject(ReasonFieldType, name)
	}
	return int(n), nil
}

func isNumberLiteral(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	c := raw[0]
	return c == '-' || (c >= '0' && c <= '9')
}
