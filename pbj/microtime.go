package pbj

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Microtime is a timestamp with microsecond precision, stored as microseconds
// since the Unix epoch. Its string form is the bare integer, which sorts
// numerically and is used as the stream range key.
type Microtime int64

// NewMicrotime converts t, dropping sub-microsecond precision.
func NewMicrotime(t time.Time) Microtime { return Microtime(t.UnixMicro()) }

// ParseMicrotime parses the integer string form. A "sec.usec" form is
// accepted as well.
func ParseMicrotime(s string) (Microtime, error) {
	s = strings.TrimSpace(s)
	if sec, usec, ok := strings.Cut(s, "."); ok {
		sv, err := strconv.ParseInt(sec, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("pbj: invalid microtime %q", s)
		}
		usec = (usec + "000000")[:6]
		uv, err := strconv.ParseInt(usec, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("pbj: invalid microtime %q", s)
		}
		return Microtime(sv*1_000_000 + uv), nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("pbj: invalid microtime %q", s)
	}
	return Microtime(v), nil
}

func (m Microtime) String() string { return strconv.FormatInt(int64(m), 10) }
func (m Microtime) Time() time.Time { return time.UnixMicro(int64(m)).UTC() }
func (m Microtime) IsZero() bool    { return m == 0 }

func (m Microtime) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Microtime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("pbj: invalid microtime %s", b)
		}
		s = n.String()
	}
	v, err := ParseMicrotime(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
