package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a JSON-RPC request identifier. It holds either a number or a
// string and is comparable, so it can be used directly as a map key.
// The zero value is the invalid (null) ID.
type ID struct {
	num   int64
	str   string
	isStr bool
	valid bool
}

// NewNumberID returns a numeric request ID
func NewNumberID(n int64) ID {
	return ID{num: n, valid: true}
}

// NewStringID returns a string request ID
func NewStringID(s string) ID {
	return ID{str: s, isStr: true, valid: true}
}

// IsValid reports whether the ID was set (i.e. is not null)
func (id ID) IsValid() bool {
	return id.valid
}

// Equal reports whether two IDs are the same value and kind
func (id ID) Equal(other ID) bool {
	return id == other
}

// IsString reports whether the ID holds a string value
func (id ID) IsString() bool {
	return id.isStr
}

// Number returns the numeric value, or false for string and null IDs
func (id ID) Number() (int64, bool) {
	return id.num, id.valid && !id.isStr
}

// String returns a printable form of the ID. Strings are quoted so that
// "1" and 1 remain distinguishable in logs.
func (id ID) String() string {
	switch {
	case !id.valid:
		return "null"
	case id.isStr:
		return strconv.Quote(id.str)
	default:
		return strconv.FormatInt(id.num, 10)
	}
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case !id.valid:
		return []byte("null"), nil
	case id.isStr:
		return json.Marshal(id.str)
	default:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid string id: %w", err)
		}
		*id = NewStringID(s)
		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		// JSON-RPC allows fractional ids in theory; nobody sends them.
		return fmt.Errorf("invalid numeric id %s: %w", string(data), err)
	}
	*id = NewNumberID(n)
	return nil
}
