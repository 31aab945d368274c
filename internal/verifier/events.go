package verifier

import (
	"io"
	"slices"

	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// EventWriter writes the verification event stream: one relaxed
// Extended JSON object per line.
type EventWriter struct {
	w io.Writer
}

func NewEventWriter(w io.Writer) *EventWriter {
	return &EventWriter{w: w}
}

// WriteDiscrepancy writes the event line for d.
func (ew *EventWriter) WriteDiscrepancy(d model.Discrepancy) error {
	line, err := encodeDiscrepancy(d)
	if err != nil {
		return err
	}

	return errors.Wrapf(ew.writeRaw(line), "writing %s event", d.Kind)
}

// encodeDiscrepancy returns d’s event line without its newline.
func encodeDiscrepancy(d model.Discrepancy) ([]byte, error) {
	event := bson.D{
		{"database", d.Namespace.DB},
		{"collection", d.Namespace.Coll},
		{"kind", "error"},
		{"errorKind", string(d.Kind)},
	}

	switch d.Kind {
	case model.Different:
		event = append(
			event,
			bson.E{"sourceDocument", d.Source.MustGet()},
			bson.E{"destinationDocument", d.Destination.MustGet()},
		)
	case model.Missing:
		event = append(event, bson.E{"document", d.Source.MustGet()})
	case model.Extraneous:
		event = append(event, bson.E{"document", d.Destination.MustGet()})
	}

	line, err := bson.MarshalExtJSON(event, false, false)
	return line, errors.Wrapf(err, "marshaling %s event", d.Kind)
}

// WriteRecap writes the closing line that totals the run. The discrepancy
// kinds come first in their usual order, then any other counters sorted
// by name.
func (ew *EventWriter) WriteRecap(stats model.Statistics) error {
	counts := bson.D{}

	for _, kind := range model.DiscrepancyKinds {
		counts = append(counts, bson.E{string(kind), stats[string(kind)]})
	}

	for _, key := range stats.Keys() {
		if slices.Contains(model.DiscrepancyKinds, model.DiscrepancyKind(key)) {
			continue
		}

		counts = append(counts, bson.E{key, stats[key]})
	}

	return errors.Wrap(
		ew.writeLine(bson.D{{"kind", "recap"}, {"stats", counts}}),
		"writing recap event",
	)
}

func (ew *EventWriter) writeLine(event bson.D) error {
	line, err := bson.MarshalExtJSON(event, false, false)
	if err != nil {
		return errors.Wrap(err, "marshaling event")
	}

	return ew.writeRaw(line)
}

// writeRaw writes an encoded event and its newline.
func (ew *EventWriter) writeRaw(line []byte) error {
	_, err := ew.w.Write(append(slices.Clip(line), '\n'))
	return err
}
