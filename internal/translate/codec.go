package translate

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// #region codec

// DefaultMarker prefixes every encoded message. It is non-ASCII, so encoded
// traffic never passes as ordinary English.
const DefaultMarker = "§"

// ErrMalformed is wrapped by every Decode failure.
var ErrMalformed = errors.New("malformed coordination message")

var (
	escaper   = strings.NewReplacer("%", "%25", "|", "%7C", "=", "%3D")
	unescaper = strings.NewReplacer("%7C", "|", "%3D", "=", "%25", "%")
)

// Codec is a key=value lookup-table protocol: "§k=v|k=v" with keys sorted.
type Codec struct {
	Marker string
}

// NewCodec returns a codec using DefaultMarker.
func NewCodec() Codec {
	return Codec{Marker: DefaultMarker}
}

// Encode renders fields as one compact message.
func (c Codec) Encode(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = escaper.Replace(k) + "=" + escaper.Replace(fields[k])
	}
	return c.Marker + strings.Join(parts, "|")
}

// Decode is the inverse of Encode. Every part must be a non-empty key with a
// value.
func (c Codec) Decode(msg string) (map[string]string, error) {
	body, ok := strings.CutPrefix(msg, c.Marker)
	if !ok {
		return nil, fmt.Errorf("%w: missing marker", ErrMalformed)
	}
	if body == "" {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}

	out := make(map[string]string)
	for _, part := range strings.Split(body, "|") {
		k, v, ok := strings.Cut(part, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: bad field %q", ErrMalformed, part)
		}
		out[unescaper.Replace(k)] = unescaper.Replace(v)
	}
	return out, nil
}

// #endregion codec

// #region messages

// TaskAssignment builds an "assign" command.
func TaskAssignment(taskID string, priority int) map[string]string {
	return map[string]string{"cmd": "assign", "task": taskID, "pri": strconv.Itoa(priority)}
}

// Acknowledgment builds an "ack" command referencing another message.
func Acknowledgment(ref string) map[string]string {
	return map[string]string{"cmd": "ack", "ref": ref}
}

// StateUpdate builds a "sync" command carrying a state label.
func StateUpdate(state string) map[string]string {
	return map[string]string{"cmd": "sync", "state": state}
}

// #endregion messages
