package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const peopleSchema = `{
	"name": "People",
	"fields": [
		{"name": "Name", "type": "string", "primary": true},
		{"name": "Age", "type": "int"},
		{"name": "Gender", "type": "string", "codebook": true, "null": true},
		{"name": "Born", "type": "datetime", "null": true},
		{"name": "Score", "type": "float", "null": true, "store": "memory"},
		{"name": "Tags", "type": "string_v", "null": true},
		{"name": "Bio", "type": "string", "null": true}
	],
	"keys": [{"field": "Name"}, {"field": "Tags", "type": "text"}]
}`

func mustSchema(t *testing.T, js string) *Schema {
	t.Helper()
	s, err := ParseSchema([]byte(js))
	require.NoError(t, err)
	return s
}

func TestParseSchema(t *testing.T) {
	s := mustSchema(t, peopleSchema)

	assert.Equal(t, "People", s.Name)
	require.Len(t, s.Fields, 7)

	pf, ok := s.Primary()
	require.True(t, ok)
	assert.Equal(t, "Name", pf.Name)
	assert.Equal(t, FieldStr, pf.Kind)

	g, ok := s.Field("Gender")
	require.True(t, ok)
	assert.True(t, g.Codebook)
	assert.True(t, g.InFixedPart())
	assert.Equal(t, 2, g.ID)

	sc, _ := s.Field("Score")
	assert.Equal(t, Memory, sc.Location)
	assert.True(t, s.HasLocation(Memory))

	assert.True(t, s.IsKey("Tags"))
	assert.False(t, s.IsKey("Age"))
	assert.Equal(t, "text", s.Keys[1].Type)
	assert.Equal(t, "value", s.Keys[0].Type)

	_, ok = s.Field("Nope")
	assert.False(t, ok)
	assert.Equal(t, WindowNone, s.Window.Type)
}

func TestParseSchemaWindows(t *testing.T) {
	s := mustSchema(t, `{"name":"W","fields":[{"name":"X","type":"int"}],"window":100}`)
	assert.Equal(t, WindowDesc{Type: WindowLength, Size: 100}, s.Window)

	s = mustSchema(t, `{"name":"T","fields":[{"name":"At","type":"datetime"}],
		"timeWindow":{"duration":2,"unit":"hour","field":"At"}}`)
	assert.Equal(t, WindowDesc{Type: WindowTime, Size: 2 * 3600 * 1000, TimeField: "At"}, s.Window)

	s = mustSchema(t, `{"name":"T","fields":[{"name":"At","type":"datetime"}],
		"timeWindow":{"duration":30,"field":"At"}}`)
	assert.Equal(t, uint64(30000), s.Window.Size)
}

func TestParseSchemaErrors(t *testing.T) {
	cases := map[string]string{
		"bad json":          `{"name":`,
		"unknown type":      `{"name":"S","fields":[{"name":"X","type":"complex"}]}`,
		"no fields":         `{"name":"S","fields":[]}`,
		"bad store name":    `{"name":"1S","fields":[{"name":"X","type":"int"}]}`,
		"bad field name":    `{"name":"S","fields":[{"name":"a-b","type":"int"}]}`,
		"duplicate field":   `{"name":"S","fields":[{"name":"X","type":"int"},{"name":"X","type":"float"}]}`,
		"two primaries":     `{"name":"S","fields":[{"name":"X","type":"int","primary":true},{"name":"Y","type":"int","primary":true}]}`,
		"nullable primary":  `{"name":"S","fields":[{"name":"X","type":"int","primary":true,"null":true}]}`,
		"vector primary":    `{"name":"S","fields":[{"name":"X","type":"int_v","primary":true}]}`,
		"codebook on int":   `{"name":"S","fields":[{"name":"X","type":"int","codebook":true}]}`,
		"unknown location":  `{"name":"S","fields":[{"name":"X","type":"int","store":"tape"}]}`,
		"key on unknown":    `{"name":"S","fields":[{"name":"X","type":"int"}],"keys":[{"field":"Y"}]}`,
		"two windows":       `{"name":"S","fields":[{"name":"At","type":"datetime"}],"window":3,"timeWindow":{"duration":1,"field":"At"}}`,
		"window not time":   `{"name":"S","fields":[{"name":"At","type":"int"}],"timeWindow":{"duration":1,"field":"At"}}`,
		"unknown time unit": `{"name":"S","fields":[{"name":"At","type":"datetime"}],"timeWindow":{"duration":1,"unit":"year","field":"At"}}`,
	}
	for name, js := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSchema([]byte(js))
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}

func TestParseSchemas(t *testing.T) {
	list, err := ParseSchemas([]byte(` [` + peopleSchema + `,{"name":"Movies","fields":[{"name":"Title","type":"string"}]}]`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Movies", list[1].Name)

	list, err = ParseSchemas([]byte(peopleSchema))
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = ParseSchemas([]byte(`[` + peopleSchema + `,` + peopleSchema + `]`))
	assert.ErrorIs(t, err, ErrSchema)
}

func TestSchemaJSONRoundTrip(t *testing.T) {
	for _, js := range []string{
		peopleSchema,
		`{"name":"T","fields":[{"name":"At","type":"datetime"}],"timeWindow":{"duration":5,"unit":"minute","field":"At"}}`,
		`{"name":"W","fields":[{"name":"X","type":"bow_sp_v","null":true}],"window":7}`,
	} {
		s := mustSchema(t, js)
		data, err := s.MarshalJSON()
		require.NoError(t, err)
		back := mustSchema(t, string(data))
		assert.Equal(t, s.Fields, back.Fields)
		assert.Equal(t, s.Keys, back.Keys)
		assert.Equal(t, s.Window, back.Window)
	}
}

func TestFieldKindNames(t *testing.T) {
	for k := FieldInt; k <= FieldBowSpV; k++ {
		got, err := ParseFieldKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	assert.True(t, FieldStr.IsVar())
	assert.False(t, FieldFltPr.IsVar())
}
