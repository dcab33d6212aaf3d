// Package dbcast turns Go values into SQL literals for JSON and timestamp
// columns so fixtures can be written straight into a query.
//
// The returned expressions are raw SQL: gorm inserts them verbatim and they are
// never checked against a live connection.
package dbcast

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TimestampLayout is the layout produced by ToTimestamp
const TimestampLayout = "2006-01-02 15:04:05"

// ErrInvalidArgument is returned when a value cannot be cast to JSON
var ErrInvalidArgument = errors.New("value is not valid JSON")

var literalEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// ToJSON returns a `CAST('<json>' AS JSON)` expression for value.
//
// Strings, byte slices and json.RawMessage are treated as JSON text and must be
// valid JSON other than null. Any other value is encoded with encoding/json,
// except that a nil slice or map becomes an empty array or object.
func ToJSON(value any) (clause.Expr, error) {
	text, err := jsonText(value)
	if err != nil {
		return clause.Expr{}, err
	}
	return gorm.Expr(fmt.Sprintf("CAST('%s' AS JSON)", literalEscaper.Replace(text))), nil
}

// MustToJSON is like ToJSON but panics on error
func MustToJSON(value any) clause.Expr {
	expr, err := ToJSON(value)
	if err != nil {
		panic(err)
	}
	return expr
}

func jsonText(value any) (string, error) {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return "", fmt.Errorf("%w: got nil", ErrInvalidArgument)
	case string:
		raw = []byte(v)
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		if empty, ok := emptyContainer(v); ok {
			raw = empty
			break
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		raw = encoded
	}

	if !json.Valid(raw) {
		return "", ErrInvalidArgument
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", fmt.Errorf("%w: null is not accepted", ErrInvalidArgument)
	}
	return string(raw), nil
}

// emptyContainer returns the JSON for a nil slice or map, which encoding/json
// would otherwise write as null
func emptyContainer(v any) ([]byte, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return []byte("[]"), true
		}
	case reflect.Map:
		if rv.IsNil() {
			return []byte("{}"), true
		}
	}
	return nil, false
}

// ToTimestamp formats t as `YYYY-MM-DD HH:MM:SS` in t's own location
func ToTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
