package model

import (
	"bytes"
	"cmp"
	"math"
	"math/big"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// CompareKeys orders two document keys the way the server orders _id
// values under the simple collation: first by canonical type, then by
// value. Numbers of different BSON types compare by value. It returns
// 0 for keys the server considers equal.
func CompareKeys(a, b DocumentKey) int {
	return compareValues(a, b)
}

// CompareNumbers compares two numeric values exactly. NaN equals NaN and
// sorts before every other number. ok is false unless both values are
// numbers.
func CompareNumbers(a, b bson.RawValue) (result int, ok bool) {
	na, aOK := numberOf(a)
	nb, bOK := numberOf(b)

	if !aOK || !bOK {
		return 0, false
	}

	return na.compare(nb), true
}

// The server’s canonical type order.
func typeRank(t bsontype.Type) int {
	switch t {
	case bsontype.MinKey:
		return -1
	case bsontype.Undefined:
		return 0
	case bsontype.Null:
		return 5
	case bsontype.Int32, bsontype.Int64, bsontype.Double, bsontype.Decimal128:
		return 10
	case bsontype.String, bsontype.Symbol:
		return 15
	case bsontype.EmbeddedDocument:
		return 20
	case bsontype.Array:
		return 25
	case bsontype.Binary:
		return 30
	case bsontype.ObjectID:
		return 35
	case bsontype.Boolean:
		return 40
	case bsontype.DateTime:
		return 45
	case bsontype.Timestamp:
		return 47
	case bsontype.Regex:
		return 50
	case bsontype.DBPointer:
		return 55
	case bsontype.JavaScript:
		return 60
	case bsontype.CodeWithScope:
		return 65
	case bsontype.MaxKey:
		return 127
	}

	return 100
}

func compareValues(a, b bson.RawValue) int {
	if c := cmp.Compare(typeRank(a.Type), typeRank(b.Type)); c != 0 {
		return c
	}

	switch a.Type {
	case bsontype.Int32, bsontype.Int64, bsontype.Double, bsontype.Decimal128:
		if c, ok := CompareNumbers(a, b); ok {
			return c
		}
	case bsontype.String, bsontype.Symbol:
		return strings.Compare(stringOf(a), stringOf(b))
	case bsontype.EmbeddedDocument, bsontype.Array:
		return compareDocuments(a.Value, b.Value)
	case bsontype.Binary:
		aSub, aData := a.Binary()
		bSub, bData := b.Binary()

		return cmp.Or(
			cmp.Compare(len(aData), len(bData)),
			cmp.Compare(aSub, bSub),
			bytes.Compare(aData, bData),
		)
	case bsontype.Boolean:
		return cmp.Compare(boolRank(a.Boolean()), boolRank(b.Boolean()))
	case bsontype.DateTime:
		return cmp.Compare(a.DateTime(), b.DateTime())
	case bsontype.Timestamp:
		aT, aI := a.Timestamp()
		bT, bI := b.Timestamp()

		return cmp.Or(cmp.Compare(aT, bT), cmp.Compare(aI, bI))
	case bsontype.Regex:
		aPattern, aOptions := a.Regex()
		bPattern, bOptions := b.Regex()

		return cmp.Or(
			strings.Compare(aPattern, bPattern),
			strings.Compare(aOptions, bOptions),
		)
	}

	// ObjectIDs, and the types whose values carry no order of their own.
	return bytes.Compare(a.Value, b.Value)
}

// compareDocuments compares element by element: type, then field name,
// then value. A prefix sorts first.
func compareDocuments(a, b []byte) int {
	aElems, aErr := bson.Raw(a).Elements()
	bElems, bErr := bson.Raw(b).Elements()

	if aErr != nil || bErr != nil {
		return bytes.Compare(a, b)
	}

	for i := range min(len(aElems), len(bElems)) {
		aVal, bVal := aElems[i].Value(), bElems[i].Value()

		c := cmp.Or(
			cmp.Compare(typeRank(aVal.Type), typeRank(bVal.Type)),
			strings.Compare(aElems[i].Key(), bElems[i].Key()),
			compareValues(aVal, bVal),
		)
		if c != 0 {
			return c
		}
	}

	return cmp.Compare(len(aElems), len(bElems))
}

func stringOf(v bson.RawValue) string {
	if v.Type == bsontype.Symbol {
		return v.Symbol()
	}

	return v.StringValue()
}

func boolRank(b bool) int {
	if b {
		return 1
	}

	return 0
}

// number is a numeric BSON value in canonical form: an exact integer if
// the value is integral, or else a float64. Decimal128 fractions are
// rounded to the nearest float64.
type number struct {
	nan     bool
	integer *big.Int
	float   float64
}

func numberOf(v bson.RawValue) (number, bool) {
	switch v.Type {
	case bsontype.Int32:
		return number{integer: big.NewInt(int64(v.Int32()))}, true
	case bsontype.Int64:
		return number{integer: big.NewInt(v.Int64())}, true
	case bsontype.Double:
		return numberFromFloat(v.Double()), true
	case bsontype.Decimal128:
		return numberFromDecimal(v.Decimal128().String()), true
	}

	return number{}, false
}

func numberFromFloat(f float64) number {
	switch {
	case math.IsNaN(f):
		return number{nan: true}
	case math.IsInf(f, 0) || f != math.Trunc(f):
		return number{float: f}
	}

	integer, _ := big.NewFloat(f).Int(nil)

	return number{integer: integer}
}

func numberFromDecimal(s string) number {
	switch s {
	case "NaN", "-NaN":
		return number{nan: true}
	case "Infinity":
		return number{float: math.Inf(1)}
	case "-Infinity":
		return number{float: math.Inf(-1)}
	}

	f, _, err := big.ParseFloat(s, 10, 256, big.ToNearestEven)
	if err != nil {
		return number{nan: true}
	}

	if f.IsInt() {
		integer, _ := f.Int(nil)
		return number{integer: integer}
	}

	rounded, _ := f.Float64()

	return number{float: rounded}
}

func (n number) String() string {
	switch {
	case n.nan:
		return "NaN"
	case n.integer != nil:
		return n.integer.String()
	}

	return strconv.FormatFloat(n.float, 'g', -1, 64)
}

func (n number) compare(other number) int {
	switch {
	case n.nan && other.nan:
		return 0
	case n.nan:
		return -1
	case other.nan:
		return 1
	}

	return n.bigFloat().Cmp(other.bigFloat())
}

func (n number) bigFloat() *big.Float {
	if n.integer != nil {
		return new(big.Float).SetInt(n.integer)
	}

	return big.NewFloat(n.float)
}
