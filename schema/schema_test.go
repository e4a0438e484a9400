package schema

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userTeam = `{
  "tables": [
    {"name": "User", "fields": [
      {"name": "Name", "type": "text"},
      {"name": "Age", "type": "INTEGER"},
      {"name": "Team", "type": "LINK", "target": "Team", "inverse": "Members"}
    ]},
    {"name": "Team", "fields": [
      {"name": "Title", "type": "TEXT", "analyzer": "fold"},
      {"name": "Members", "type": "LINK", "target": "User", "inverse": "Team"}
    ]}
  ]
}`

func TestLoad(t *testing.T) {
	s, err := Load(strings.NewReader(userTeam))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"User", "Team"}, s.Tables())

	user, ok := s.Table("User")
	require.True(t, ok)
	f, ok := user.Field("Name")
	require.True(t, ok)
	assert.Equal(t, TypeText, f.Type)

	link, ok := user.Field("Team")
	require.True(t, ok)
	assert.Equal(t, TypeLink, link.Type)
	assert.Equal(t, "Members", link.Inverse)

	team, _ := s.Table("Team")
	title, _ := team.Field("Title")
	assert.Equal(t, "fold", title.Analyzer)

	_, ok = s.Table("Nope")
	assert.False(t, ok)
}

func TestLoadRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing tables", `{}`},
		{"bad type", `{"tables":[{"name":"T","fields":[{"name":"F","type":"DECIMAL"}]}]}`},
		{"unknown link target", `{"tables":[{"name":"T","fields":[{"name":"L","type":"LINK","target":"X","inverse":"Y"}]}]}`},
		{"missing inverse", `{"tables":[{"name":"T","fields":[{"name":"L","type":"LINK","target":"T","inverse":"Back"}]}]}`},
		{"duplicate field", `{"tables":[{"name":"T","fields":[{"name":"F","type":"TEXT"},{"name":"F","type":"LONG"}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidSchema)
		})
	}
}

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		typ  FieldType
		raw  string
		want int64
	}{
		{TypeBoolean, "true", 1},
		{TypeBoolean, "0", 0},
		{TypeInteger, "-42", -42},
		{TypeLong, "9007199254740993", 9007199254740993},
		{TypeDouble, "1.5", int64(math.Float64bits(1.5))},
		{TypeFloat, "-2.25", int64(int32(math.Float32bits(-2.25)))},
		{TypeTimestamp, "1700000000000", 1700000000000},
		{TypeTimestamp, "1970-01-01T00:00:01Z", 1000},
		{TypeTimestamp, "1970-01-02", 86400000},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String()+"/"+tt.raw, func(t *testing.T) {
			got, err := ParseNumeric("T", Field{Name: "F", Type: tt.typ}, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseNumericError(t *testing.T) {
	_, err := ParseNumeric("T", Field{Name: "Age", Type: TypeInteger}, "forty")
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Age", pe.Field)
	assert.Equal(t, "forty", pe.Value)
	assert.Contains(t, err.Error(), `"forty"`)
	assert.NotNil(t, errors.Unwrap(err))

	_, err = ParseNumeric("T", Field{Name: "Age", Type: TypeInteger}, "4294967296")
	assert.Error(t, err)
}

func TestFormatNumericRoundTrip(t *testing.T) {
	v, err := ParseNumeric("T", Field{Name: "D", Type: TypeDouble}, "3.25")
	require.NoError(t, err)
	assert.Equal(t, "3.25", FormatNumeric(TypeDouble, v))

	v, err = ParseNumeric("T", Field{Name: "F", Type: TypeFloat}, "0.5")
	require.NoError(t, err)
	assert.Equal(t, "0.5", FormatNumeric(TypeFloat, v))

	assert.Equal(t, "true", FormatNumeric(TypeBoolean, 1))
	assert.Equal(t, "1970-01-01T00:00:01Z", FormatNumeric(TypeTimestamp, 1000))
}

func TestParseFieldType(t *testing.T) {
	ft, err := ParseFieldType(" timestamp ")
	require.NoError(t, err)
	assert.Equal(t, TypeTimestamp, ft)
	assert.True(t, ft.IsNumeric())
	assert.True(t, TypeBinary.IsTerm())
	assert.False(t, TypeLink.IsNumeric())

	_, err = ParseFieldType("decimal")
	assert.ErrorIs(t, err, ErrUnknownFieldType)
}
