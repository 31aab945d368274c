package verifier

import (
	"math"

	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// MismatchDetails names the top-level fields that differ between two
// documents.
type MismatchDetails struct {
	MissingFieldOnSrc   []string
	MissingFieldOnDst   []string
	FieldContentsDiffer []string
}

// DocComparator compares documents structurally: field order never
// matters, array order always does, and unless StrictNumericTypes is set,
// numbers compare by value regardless of their BSON numeric type.
type DocComparator struct {
	StrictNumericTypes bool
}

// Equal reports whether two documents match.
func (dc DocComparator) Equal(srcRaw, dstRaw bson.Raw) (bool, error) {
	details, err := dc.compareDocuments(srcRaw, dstRaw, true)
	return details == nil, err
}

// Diff returns nil if the documents match, or else the fields that do not.
func (dc DocComparator) Diff(srcRaw, dstRaw bson.Raw) (*MismatchDetails, error) {
	return dc.compareDocuments(srcRaw, dstRaw, false)
}

func (dc DocComparator) compareDocuments(
	srcRaw, dstRaw bson.Raw,
	stopOnMismatch bool,
) (*MismatchDetails, error) {
	srcElements, err := srcRaw.Elements()
	if err != nil {
		return nil, errors.Wrap(err, "parsing source document for comparison")
	}

	dstElements, err := dstRaw.Elements()
	if err != nil {
		return nil, errors.Wrap(err, "parsing destination document for comparison")
	}

	var details MismatchDetails
	anyMismatch := false

	srcByKey := make(map[string]bson.RawValue, len(srcElements))
	for _, el := range srcElements {
		srcByKey[el.Key()] = el.Value()
	}

	seen := make(map[string]struct{}, len(srcElements))

	for _, el := range dstElements {
		key := el.Key()

		srcValue, ok := srcByKey[key]
		if !ok {
			details.MissingFieldOnSrc = append(details.MissingFieldOnSrc, key)
			anyMismatch = true
		} else {
			seen[key] = struct{}{}

			same, err := dc.compareValues(srcValue, el.Value())
			if err != nil {
				return nil, errors.Wrapf(err, "comparing field %#q", key)
			}

			if !same {
				details.FieldContentsDiffer = append(details.FieldContentsDiffer, key)
				anyMismatch = true
			}
		}

		if stopOnMismatch && anyMismatch {
			return &details, nil
		}
	}

	for _, el := range srcElements {
		if _, ok := seen[el.Key()]; !ok {
			details.MissingFieldOnDst = append(details.MissingFieldOnDst, el.Key())
			anyMismatch = true

			if stopOnMismatch {
				return &details, nil
			}
		}
	}

	if anyMismatch {
		return &details, nil
	}

	return nil, nil
}

func (dc DocComparator) compareValues(src, dst bson.RawValue) (bool, error) {
	if src.Type != dst.Type {
		if dc.StrictNumericTypes {
			return false, nil
		}

		return numericallyEqual(src, dst), nil
	}

	switch src.Type {
	case bsontype.EmbeddedDocument:
		return dc.Equal(src.Document(), dst.Document())
	case bsontype.Array:
		return dc.compareArrays(src.Array(), dst.Array())
	case bsontype.Double:
		// Bytewise equality would call NaN unequal to itself.
		s, d := src.Double(), dst.Double()
		return s == d || (math.IsNaN(s) && math.IsNaN(d)), nil
	case bsontype.Decimal128:
		if src.Equal(dst) {
			return true, nil
		}

		return !dc.StrictNumericTypes && numericallyEqual(src, dst), nil
	default:
		return src.Equal(dst), nil
	}
}

func (dc DocComparator) compareArrays(srcRaw, dstRaw bson.Raw) (bool, error) {
	srcValues, err := srcRaw.Values()
	if err != nil {
		return false, errors.Wrap(err, "parsing source array")
	}

	dstValues, err := dstRaw.Values()
	if err != nil {
		return false, errors.Wrap(err, "parsing destination array")
	}

	if len(srcValues) != len(dstValues) {
		return false, nil
	}

	for i := range srcValues {
		same, err := dc.compareValues(srcValues[i], dstValues[i])
		if err != nil || !same {
			return false, err
		}
	}

	return true, nil
}

// numericallyEqual reports whether both values are numbers of equal value.
// Integers compare exactly, even against doubles beyond 2^53.
func numericallyEqual(a, b bson.RawValue) bool {
	c, ok := model.CompareNumbers(a, b)
	return ok && c == 0
}
