package intakevalue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleResponses = `{
	"chief_complaint": "chest pain since this morning",
	"pain_scale": 7,
	"smoker": false,
	"medications": [
		{"name": "warfarin", "dose": "5mg"},
		{"name": "lisinopril", "dose": "10mg"}
	],
	"allergies": ["penicillin", "latex"],
	"notes": null
}`

func TestParsePreservesMemberOrder(t *testing.T) {
	v, err := Parse([]byte(sampleResponses))
	require.NoError(t, err)
	require.Equal(t, KindMap, v.Kind())

	keys := make([]string, 0, len(v.Members()))
	for _, m := range v.Members() {
		keys = append(keys, m.Key)
	}
	require.Equal(t, []string{"chief_complaint", "pain_scale", "smoker", "medications", "allergies", "notes"}, keys)
}

func TestAccessors(t *testing.T) {
	v, err := Parse([]byte(sampleResponses))
	require.NoError(t, err)

	require.Equal(t, "chest pain since this morning", v.StringAt("chief_complaint"))

	pain, ok := v.Get("pain_scale")
	require.True(t, ok)
	require.Equal(t, KindNumber, pain.Kind())
	require.InDelta(t, 7, pain.Num(), 0.001)

	smoker, ok := v.Get("smoker")
	require.True(t, ok)
	require.False(t, smoker.BoolVal())

	notes, ok := v.Get("notes")
	require.True(t, ok)
	require.Equal(t, KindNull, notes.Kind())

	_, ok = v.Get("missing")
	require.False(t, ok)
}

func TestStringsAtFlattens(t *testing.T) {
	v, err := Parse([]byte(sampleResponses))
	require.NoError(t, err)

	require.Equal(t, []string{"warfarin", "lisinopril"}, v.StringsAt("medications"))
	require.Equal(t, []string{"penicillin", "latex"}, v.StringsAt("allergies"))
	require.Nil(t, v.StringsAt("pain_scale"))
}

func TestTextLeavesOrdered(t *testing.T) {
	v, err := Parse([]byte(`{"a": "first", "b": ["second", {"c": "third"}], "d": 4}`))
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second", "third"}, v.TextLeaves())
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "{", `{"a":}`, `{"a":1} trailing`} {
		_, err := Parse([]byte(input))
		require.Error(t, err, input)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	v, err := Parse([]byte(`{"b":1,"a":[true,null,"x"],"n":1.5}`))
	require.NoError(t, err)

	out, err := v.MarshalJSON()
	require.NoError(t, err)
	// Order and number formatting survive the round trip.
	require.JSONEq(t, `{"b":1,"a":[true,null,"x"],"n":1.5}`, string(out))
	require.Equal(t, `{"b":1,"a":[true,null,"x"],"n":1.5}`, string(out))
}

func TestRender(t *testing.T) {
	v := Map(
		Member{Key: "name", Value: String("warfarin")},
		Member{Key: "dose", Value: String("5mg")},
	)
	require.Equal(t, "name: warfarin; dose: 5mg", v.Render())
	require.Equal(t, "a, b", List(String("a"), String("b")).Render())
	require.Equal(t, "", Null().Render())
}
