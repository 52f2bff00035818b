package apic

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnexpectedShape reports a managed object that does not look like the
// fabric's "{class: {attributes, children}}" encoding.
var ErrUnexpectedShape = errors.New("unexpected object shape")

// Kind is the role a managed object plays in a contract export.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindContract
	KindSourceRef
	KindSourceRefAny
	KindDestRef
	KindDestRefAny
	KindSubject
	KindSubjectFilterAtt
	KindSubjectGraphAtt
	KindFilter
	KindFilterEntry
)

var classKinds = map[string]Kind{
	"vzBrCP":           KindContract,
	"vzRtCons":         KindSourceRef,
	"vzRtAnyToCons":    KindSourceRefAny,
	"vzRtProv":         KindDestRef,
	"vzRtAnyToProv":    KindDestRefAny,
	"vzSubj":           KindSubject,
	"vzRsSubjFiltAtt":  KindSubjectFilterAtt,
	"vzRsFiltAtt":      KindSubjectFilterAtt, // below vzInTerm/vzOutTerm
	"vzRsSubjGraphAtt": KindSubjectGraphAtt,
	"vzFilter":         KindFilter,
	"vzEntry":          KindFilterEntry,
}

var kindNames = [...]string{
	KindUnrecognized:     "unrecognized",
	KindContract:         "contract",
	KindSourceRef:        "source-ref",
	KindSourceRefAny:     "source-ref-any",
	KindDestRef:          "dest-ref",
	KindDestRefAny:       "dest-ref-any",
	KindSubject:          "subject",
	KindSubjectFilterAtt: "subject-filter-attachment",
	KindSubjectGraphAtt:  "subject-graph-attachment",
	KindFilter:           "filter",
	KindFilterEntry:      "filter-entry",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Classify returns the kind for a fabric class name.
func Classify(class string) Kind {
	return classKinds[class]
}

// Node is one managed object as returned in "imdata" or "children".
type Node struct {
	Class    string
	Kind     Kind
	Attrs    map[string]string
	Children []Node
}

type nodeBody struct {
	Attributes map[string]string `json:"attributes"`
	Children   []Node            `json:"children"`
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("%w: expected exactly one class key, got %d", ErrUnexpectedShape, len(raw))
	}
	for class, body := range raw {
		var b nodeBody
		if err := json.Unmarshal(body, &b); err != nil {
			if errors.Is(err, ErrUnexpectedShape) {
				return err
			}
			return fmt.Errorf("%w: %s: %v", ErrUnexpectedShape, class, err)
		}
		if b.Attributes == nil {
			b.Attributes = map[string]string{}
		}
		*n = Node{
			Class:    class,
			Kind:     Classify(class),
			Attrs:    b.Attributes,
			Children: b.Children,
		}
	}
	return nil
}

// Attr returns a required attribute.
func (n Node) Attr(name string) (string, error) {
	v, ok := n.Attrs[name]
	if !ok {
		return "", fmt.Errorf("%w: %s has no attribute %q", ErrUnexpectedShape, n.Class, name)
	}
	return v, nil
}

// DN returns the node's distinguished name.
func (n Node) DN() (string, error) {
	return n.Attr("dn")
}

// Response is the envelope of every fabric API reply.
type Response struct {
	TotalCount json.Number `json:"totalCount"`
	Imdata     []Node      `json:"imdata"`
}

// Count returns totalCount as an integer.
func (r *Response) Count() (int, error) {
	if r.TotalCount == "" {
		return len(r.Imdata), nil
	}
	n, err := r.TotalCount.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: totalCount %q", ErrUnexpectedShape, r.TotalCount)
	}
	return int(n), nil
}
