package model

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Operation is the closed set of change kinds the replicator understands.
// Only types in this package implement it. Kinds the feed reports that are
// not listed here decode as Unknown.
type Operation interface {
	// OperationKind returns the operationType as the feed names it.
	OperationKind() string

	sealed()
}

type Insert struct {
	Key          DocumentKey
	FullDocument bson.Raw
}

type Update struct {
	Key DocumentKey

	// FullDocument is absent when the document no longer existed on the
	// source at the time the post-image was looked up.
	FullDocument mo.Option[bson.Raw]
}

type Replace struct {
	Key          DocumentKey
	FullDocument bson.Raw
}

type Delete struct {
	Key DocumentKey
}

type Rename struct {
	To Namespace
}

type Drop struct{}

type DropDatabase struct{}

type Invalidate struct{}

// Unknown is any operationType not otherwise listed, e.g., DDL events
// such as "create" or "resharded".
type Unknown struct {
	Kind string
}

func (Insert) OperationKind() string       { return "insert" }
func (Update) OperationKind() string       { return "update" }
func (Replace) OperationKind() string      { return "replace" }
func (Delete) OperationKind() string       { return "delete" }
func (Rename) OperationKind() string       { return "rename" }
func (Drop) OperationKind() string         { return "drop" }
func (DropDatabase) OperationKind() string { return "dropDatabase" }
func (Invalidate) OperationKind() string   { return "invalidate" }
func (u Unknown) OperationKind() string    { return u.Kind }

func (Insert) sealed()       {}
func (Update) sealed()       {}
func (Replace) sealed()      {}
func (Delete) sealed()       {}
func (Rename) sealed()       {}
func (Drop) sealed()         {}
func (DropDatabase) sealed() {}
func (Invalidate) sealed()   {}
func (Unknown) sealed()      {}

// ChangeEvent is one entry of the source change feed.
type ChangeEvent struct {
	Op        Operation
	Namespace Namespace

	// Position is the resume token. Resuming after it yields the event
	// that followed this one.
	Position    bson.Raw
	ClusterTime mo.Option[primitive.Timestamp]
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s on %#q", e.Op.OperationKind(), e.Namespace.String())
}

// ParseChangeEvent decodes a raw change stream document. An unrecognized
// operationType yields an Unknown operation rather than an error; missing
// fields that a recognized kind requires do yield an error.
func ParseChangeEvent(raw bson.Raw) (ChangeEvent, error) {
	var (
		event        ChangeEvent
		opType       string
		key          mo.Option[DocumentKey]
		fullDocument mo.Option[bson.Raw]
		to           mo.Option[Namespace]
	)

	elems, err := raw.Elements()
	if err != nil {
		return ChangeEvent{}, errors.Wrap(err, "parsing change event")
	}

	for _, elem := range elems {
		val := elem.Value()

		switch elem.Key() {
		case "_id":
			doc, ok := val.DocumentOK()
			if !ok {
				return ChangeEvent{}, errors.Errorf("change event resume token has BSON type %s", val.Type)
			}
			event.Position = doc
		case "operationType":
			str, ok := val.StringValueOK()
			if !ok {
				return ChangeEvent{}, errors.Errorf("change event operationType has BSON type %s", val.Type)
			}
			opType = str
		case "clusterTime":
			t, i, ok := val.TimestampOK()
			if ok {
				event.ClusterTime = mo.Some(primitive.Timestamp{T: t, I: i})
			}
		case "ns":
			ns, err := parseNamespace(val)
			if err != nil {
				return ChangeEvent{}, errors.Wrap(err, "parsing change event namespace")
			}
			event.Namespace = ns
		case "to":
			ns, err := parseNamespace(val)
			if err != nil {
				return ChangeEvent{}, errors.Wrap(err, "parsing rename target")
			}
			to = mo.Some(ns)
		case "documentKey":
			doc, ok := val.DocumentOK()
			if !ok {
				return ChangeEvent{}, errors.Errorf("change event documentKey has BSON type %s", val.Type)
			}
			id, err := doc.LookupErr("_id")
			if err != nil {
				return ChangeEvent{}, errors.Wrap(err, "change event documentKey lacks _id")
			}
			key = mo.Some(id)
		case "fullDocument":
			// A null post-image means the document was gone at lookup time.
			if val.Type == bsontype.Null {
				continue
			}
			doc, ok := val.DocumentOK()
			if !ok {
				return ChangeEvent{}, errors.Errorf("change event fullDocument has BSON type %s", val.Type)
			}
			fullDocument = mo.Some(doc)
		}
	}

	if event.Position == nil {
		return ChangeEvent{}, errors.New("change event lacks a resume token")
	}

	if opType == "" {
		return ChangeEvent{}, errors.New("change event lacks an operationType")
	}

	requireKey := func() (DocumentKey, error) {
		k, ok := key.Get()
		if !ok {
			return DocumentKey{}, errors.Errorf("%#q event lacks documentKey", opType)
		}
		return k, nil
	}

	requireDoc := func() (bson.Raw, error) {
		d, ok := fullDocument.Get()
		if !ok {
			return nil, errors.Errorf("%#q event lacks fullDocument", opType)
		}
		return d, nil
	}

	switch opType {
	case "insert", "replace":
		k, err := requireKey()
		if err != nil {
			return ChangeEvent{}, err
		}
		d, err := requireDoc()
		if err != nil {
			return ChangeEvent{}, err
		}
		if opType == "insert" {
			event.Op = Insert{Key: k, FullDocument: d}
		} else {
			event.Op = Replace{Key: k, FullDocument: d}
		}
	case "update":
		k, err := requireKey()
		if err != nil {
			return ChangeEvent{}, err
		}
		event.Op = Update{Key: k, FullDocument: fullDocument}
	case "delete":
		k, err := requireKey()
		if err != nil {
			return ChangeEvent{}, err
		}
		event.Op = Delete{Key: k}
	case "rename":
		target, ok := to.Get()
		if !ok {
			return ChangeEvent{}, errors.New("rename event lacks a target namespace")
		}
		event.Op = Rename{To: target}
	case "drop":
		event.Op = Drop{}
	case "dropDatabase":
		event.Op = DropDatabase{}
	case "invalidate":
		event.Op = Invalidate{}
	default:
		event.Op = Unknown{Kind: opType}
	}

	return event, nil
}

func parseNamespace(val bson.RawValue) (Namespace, error) {
	doc, ok := val.DocumentOK()
	if !ok {
		return Namespace{}, errors.Errorf("namespace has BSON type %s", val.Type)
	}

	var ns Namespace
	if err := bson.Unmarshal(doc, &ns); err != nil {
		return Namespace{}, errors.Wrap(err, "decoding namespace")
	}

	return ns, nil
}
