// Package types holds the clickstream and fine-tuning data model shared by
// the clickstream store, the converter, the feature extractor and the
// driver: Session, SessionEvent, SessionBatch, RegisteredSession,
// FineTuningInput, FineTuningFeatures, FineTuningIteration and
// FineTuningParams.
package types

import "fmt"

// QueryItem is the tagged-variant replacement for the source's open,
// duck-typed query object (see design note "dynamic typing -> explicit
// variants"). Exactly one of the Text/Image/Dict forms is populated,
// identified by Kind.
type QueryItem struct {
	Kind QueryKind

	Text   string                 // QueryKindText
	Image  []byte                 // QueryKindImage
	Fields map[string]interface{} // QueryKindDict
}

// QueryKind discriminates the QueryItem variant.
type QueryKind int

const (
	QueryKindText QueryKind = iota
	QueryKindImage
	QueryKindDict
)

func (k QueryKind) String() string {
	switch k {
	case QueryKindText:
		return "text"
	case QueryKindImage:
		return "image"
	case QueryKindDict:
		return "dict"
	default:
		return "unknown"
	}
}

// NewTextQuery builds a text QueryItem, optionally merging extra metadata
// fields (session.search_meta in spec §4.2). A "text" key in meta collides
// with the reserved field and is rejected by the converter, not here.
func NewTextQuery(text string, meta map[string]interface{}) QueryItem {
	if len(meta) == 0 {
		return QueryItem{Kind: QueryKindText, Text: text}
	}
	fields := make(map[string]interface{}, len(meta)+1)
	for k, v := range meta {
		fields[k] = v
	}
	fields["text"] = text
	return QueryItem{Kind: QueryKindDict, Fields: fields}
}

// NewImageQuery builds an image QueryItem from raw bytes.
func NewImageQuery(b []byte) QueryItem {
	return QueryItem{Kind: QueryKindImage, Image: b}
}

// NewDictQuery builds a fully opaque structured query.
func NewDictQuery(fields map[string]interface{}) QueryItem {
	return QueryItem{Kind: QueryKindDict, Fields: fields}
}

// HasFieldCollision reports whether meta already carries the reserved
// "text" key, the SchemaError case in spec §4.2.
func HasFieldCollision(meta map[string]interface{}) bool {
	_, ok := meta["text"]
	return ok
}

func (q QueryItem) String() string {
	switch q.Kind {
	case QueryKindText:
		return q.Text
	case QueryKindImage:
		return fmt.Sprintf("<image %d bytes>", len(q.Image))
	default:
		return fmt.Sprintf("<dict %d fields>", len(q.Fields))
	}
}
