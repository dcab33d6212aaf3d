package dbcast

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/drallgood/apptest/internal/database"
	"github.com/drallgood/apptest/internal/logger"
)

var literalUnescaper = strings.NewReplacer(`\\`, `\`, `\'`, `'`)

// embeddedJSON strips the cast wrapper and undoes the literal escaping
func embeddedJSON(t *testing.T, sql string) string {
	t.Helper()
	require.True(t, strings.HasPrefix(sql, "CAST('"), "unexpected prefix: %s", sql)
	require.True(t, strings.HasSuffix(sql, "' AS JSON)"), "unexpected suffix: %s", sql)
	inner := strings.TrimSuffix(strings.TrimPrefix(sql, "CAST('"), "' AS JSON)")
	return literalUnescaper.Replace(inner)
}

func TestToJSON_StructuredValuesRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"flat map", map[string]any{"name": "widget", "count": float64(3)}},
		{"nested", map[string]any{"tags": []any{"a", "b"}, "meta": map[string]any{"ok": true}}},
		{"list", []any{float64(1), "two", nil}},
		{"single quotes", map[string]any{"quote": "it's O'Reilly's"}},
		{"backslashes", map[string]any{"path": `C:\temp\new`, "escaped": `a\"b`}},
		{"empty map", map[string]any{}},
		{"empty list", []any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := ToJSON(tt.value)
			require.NoError(t, err)
			assert.Empty(t, expr.Vars)

			var decoded any
			require.NoError(t, json.Unmarshal([]byte(embeddedJSON(t, expr.SQL)), &decoded))
			if diff := cmp.Diff(tt.value, decoded); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToJSON_Struct(t *testing.T) {
	type settings struct {
		Theme string `json:"theme"`
		Beta  bool   `json:"beta"`
	}

	expr, err := ToJSON(settings{Theme: "dark", Beta: true})
	require.NoError(t, err)
	assert.Equal(t, `CAST('{"theme":"dark","beta":true}' AS JSON)`, expr.SQL)
}

func TestToJSON_Strings(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"object string", `{"a":1}`, `CAST('{"a":1}' AS JSON)`},
		{"array string", `[1,2]`, `CAST('[1,2]' AS JSON)`},
		{"scalar string", `"plain"`, `CAST('"plain"' AS JSON)`},
		{"number string", `42`, `CAST('42' AS JSON)`},
		{"raw message", json.RawMessage(`{"b":2}`), `CAST('{"b":2}' AS JSON)`},
		{"bytes", []byte(`true`), `CAST('true' AS JSON)`},
		{"quote is escaped", `{"who":"O'Brien"}`, `CAST('{"who":"O\'Brien"}' AS JSON)`},
		{"escaped double quote", `{"q":"say \"hi\""}`, `CAST('{"q":"say \\"hi\\""}' AS JSON)`},
		{"backslash and quote", `["C:\\tmp","it's"]`, `CAST('["C:\\\\tmp","it\'s"]' AS JSON)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := ToJSON(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.SQL)
		})
	}
}

func TestToJSON_InvalidArgument(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"not json", "not json"},
		{"truncated", `{"a":`},
		{"empty string", ""},
		{"null literal", "null"},
		{"padded null literal", "  null\n"},
		{"nil", nil},
		{"unencodable", map[string]any{"ch": make(chan int)}},
		{"raw garbage", json.RawMessage(`{oops}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToJSON(tt.value)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArgument), "got %v", err)
		})
	}
}

func TestToJSON_NilContainers(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil slice", []string(nil), `CAST('[]' AS JSON)`},
		{"nil map", map[string]any(nil), `CAST('{}' AS JSON)`},
		{"nil nested stays null", map[string][]int{"ids": nil}, `CAST('{"ids":null}' AS JSON)`},
		{"encoded apostrophe", map[string]string{"who": "O'Brien"}, `CAST('{"who":"O\'Brien"}' AS JSON)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := ToJSON(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.SQL)
		})
	}

	_, err := ToJSON((*struct{})(nil))
	assert.True(t, errors.Is(err, ErrInvalidArgument), "a nil pointer still encodes to null")
}

func TestMustToJSON(t *testing.T) {
	assert.Equal(t, `CAST('[]' AS JSON)`, MustToJSON([]int{}).SQL)
	assert.Panics(t, func() { MustToJSON("null") })
}

func TestToJSON_RendersIntoQuery(t *testing.T) {
	type gadget struct {
		ID   uint
		Meta string
	}

	db, err := database.Connect(database.DefaultConfig(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	stmt := db.Session(&gorm.Session{DryRun: true}).
		Model(&gadget{ID: 7}).
		Update("meta", MustToJSON(map[string]any{"color": "red"})).
		Statement

	assert.Contains(t, stmt.SQL.String(), `CAST('{"color":"red"}' AS JSON)`)
}

func TestToTimestamp(t *testing.T) {
	instant := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "2021-03-04 05:06:07", ToTimestamp(instant))

	t.Run("uses the value's own location", func(t *testing.T) {
		zone := time.FixedZone("UTC+9", 9*60*60)
		assert.Equal(t, "2021-03-04 14:06:07", ToTimestamp(instant.In(zone)))
	})

	t.Run("24 hour clock and zero padding", func(t *testing.T) {
		evening := time.Date(1999, 12, 31, 23, 9, 1, 999, time.UTC)
		assert.Equal(t, "1999-12-31 23:09:01", ToTimestamp(evening))
	})
}
