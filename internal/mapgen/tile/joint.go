package tile

import (
	"errors"
	"strings"
)

// EmptyMarker is the tag that pairs with any "*empty*" tag on the opposing face.
const EmptyMarker = "empty"

// Joint file encodings.
const (
	allText  = "*"
	noneText = "-"
)

var ErrMalformedJoint = errors.New("malformed joint")

type JointKind uint8

const (
	JointAll JointKind = iota + 1
	JointNone
	JointTag
)

// Joint labels one face of a tile. The zero value is malformed.
type Joint struct {
	Kind JointKind
	Tag  string
}

func All() Joint { return Joint{Kind: JointAll} }

func None() Joint { return Joint{Kind: JointNone} }

func Tag(s string) Joint { return Joint{Kind: JointTag, Tag: s} }

func (j Joint) IsAll() bool  { return j.Kind == JointAll }
func (j Joint) IsNone() bool { return j.Kind == JointNone }

func (j Joint) Validate() error {
	switch j.Kind {
	case JointAll, JointNone:
		if j.Tag != "" {
			return ErrMalformedJoint
		}
		return nil
	case JointTag:
		if strings.TrimSpace(j.Tag) == "" || j.Tag == allText || j.Tag == noneText {
			return ErrMalformedJoint
		}
		return nil
	default:
		return ErrMalformedJoint
	}
}

func (j Joint) String() string {
	switch j.Kind {
	case JointAll:
		return allText
	case JointNone:
		return noneText
	case JointTag:
		return j.Tag
	default:
		return "?"
	}
}

func (j Joint) MarshalText() ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return []byte(j.String()), nil
}

func (j *Joint) UnmarshalText(b []byte) error {
	p, err := ParseJoint(string(b))
	if err != nil {
		return err
	}
	*j = p
	return nil
}

func ParseJoint(s string) (Joint, error) {
	switch s {
	case allText:
		return All(), nil
	case noneText:
		return None(), nil
	}
	j := Tag(s)
	if err := j.Validate(); err != nil {
		return Joint{}, err
	}
	return j, nil
}

// Compatible reports whether joint a, on a candidate's face, admits joint b on the
// touching face of the neighbour. All on the neighbour admits anything; None on the
// neighbour admits only None, so nothing can be placed against a forbidden face.
// The relation is symmetric except for (All, None).
func Compatible(a, b Joint) bool {
	switch {
	case b.Kind == JointAll:
		return true
	case b.Kind == JointNone:
		return a.Kind == JointNone
	case a.Kind == JointAll:
		return true
	case a.Kind == JointNone:
		return false
	}
	return tagsMatch(a.Tag, b.Tag)
}

func tagsMatch(t, u string) bool {
	switch {
	case t == EmptyMarker:
		return strings.Contains(u, EmptyMarker)
	case u == EmptyMarker:
		return strings.Contains(t, EmptyMarker)
	case strings.Contains(t, EmptyMarker), strings.Contains(u, EmptyMarker):
		// "*empty*" tags only pair with the bare marker.
		return false
	default:
		return t == u
	}
}
