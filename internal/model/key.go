package model

import (
	"go.mongodb.org/mongo-driver/bson"
)

// DocumentKey is the primary-key (_id) value that identifies a document
// within a namespace. It is assumed to be stable across both clusters.
type DocumentKey = bson.RawValue

// KeyOf returns the document’s _id.
func KeyOf(doc bson.Raw) (DocumentKey, error) {
	return doc.LookupErr("_id")
}

// KeyString returns a string that identifies the key for matching purposes.
// Numeric keys that represent the same value yield the same string
// regardless of their BSON numeric type, so that, e.g., int32 1, double
// 1.0, and int64 2^60 against double 2^60 match as the server’s equality
// semantics would have them match. Keys of other types, including
// embedded documents, compare bytewise.
func KeyString(key DocumentKey) string {
	if num, ok := numberOf(key); ok {
		return "#" + num.String()
	}

	buf := make([]byte, 0, 1+len(key.Value))
	buf = append(buf, byte(key.Type))
	buf = append(buf, key.Value...)

	return string(buf)
}
