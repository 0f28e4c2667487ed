package pbj

import (
	"fmt"
	"strings"
)

// MessageRef points at a message by type and id, optionally tagged.
// String form: vendor:package:category:message:id[#tag]
type MessageRef struct {
	Curie string
	ID    string
	Tag   string
}

func ParseMessageRef(s string) (MessageRef, error) {
	body, tag, _ := strings.Cut(s, "#")
	parts := strings.SplitN(body, ":", 5)
	if len(parts) != 5 {
		return MessageRef{}, fmt.Errorf("pbj: invalid message ref %q", s)
	}
	for _, p := range parts {
		if p == "" {
			return MessageRef{}, fmt.Errorf("pbj: invalid message ref %q", s)
		}
	}
	return MessageRef{Curie: strings.Join(parts[:4], ":"), ID: parts[4], Tag: tag}, nil
}

func (r MessageRef) String() string {
	if r.Curie == "" {
		return ""
	}
	s := r.Curie + ":" + r.ID
	if r.Tag != "" {
		s += "#" + r.Tag
	}
	return s
}

func (r MessageRef) IsZero() bool { return r.Curie == "" && r.ID == "" }

func (r MessageRef) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *MessageRef) UnmarshalText(b []byte) error {
	v, err := ParseMessageRef(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
