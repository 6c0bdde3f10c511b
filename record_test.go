package applogger

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"trace", LevelTrace},
		{"Debug", LevelDebug},
		{"info", LevelInformation},
		{"Information", LevelInformation},
		{"WARN", LevelWarning},
		{"warning", LevelWarning},
		{"error", LevelError},
		{"critical", LevelCritical},
		{" none ", LevelNone},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "Warning", LevelWarning.String())
	assert.Equal(t, "None", LevelNone.String())
	assert.Equal(t, "Level(99)", Level(99).String())
}

func TestData_KeepsInsertionOrder(t *testing.T) {
	d := D("zeta", 1, "alpha", "two", "mid", true)
	d = d.Set("alpha", "replaced")

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":"replaced","mid":true}`, string(out))

	var back Data
	require.NoError(t, json.Unmarshal(out, &back))
	keys := make([]string, len(back))
	for i, f := range back {
		keys[i] = f.Key
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, keys)

	v, ok := back.Get("alpha")
	assert.True(t, ok)
	assert.Equal(t, "replaced", v)
}

func TestData_EncodesErrorsAndUnsupportedValues(t *testing.T) {
	d := D(
		"err", errors.New("disk full"),
		"ch", make(chan int),
		"fn", func() {},
		"n", 3,
	)

	out, err := json.Marshal(d)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "disk full", back["err"])
	assert.IsType(t, "", back["ch"])
	assert.IsType(t, "", back["fn"])
	assert.EqualValues(t, 3, back["n"])
}

func TestData_OddArguments(t *testing.T) {
	d := D("key", "value", "dangling")
	require.Len(t, d, 2)
	v, ok := d.Get("dangling")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestData_RejectsNonObject(t *testing.T) {
	var d Data
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &d))
}

func TestRecord_JSONShape(t *testing.T) {
	r := Record{
		Kind:      KindError,
		Level:     LevelError,
		Message:   "boom",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		SessionID: testSessionID,
		Data:      D("b", 1, "a", 2),
		Attachments: []Attachment{
			{Name: "shot.png", ContentType: "image/png", Content: []byte{1, 2, 3}},
		},
		Exception: &ExceptionInfo{Type: "*errors.errorString", Message: "boom"},
	}

	out, err := json.Marshal(r)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))
	assert.Equal(t, "Error", generic["level"])
	assert.Equal(t, "error", generic["kind"])
	assert.Equal(t, testSessionID, generic["sessionId"])
	assert.Contains(t, string(out), `"additionalData":{"b":1,"a":2}`)
	assert.NotContains(t, string(out), "eventId", "empty optional fields are omitted")

	var back Record
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, LevelError, back.Level)
	assert.Equal(t, []byte{1, 2, 3}, back.Attachments[0].Content)
	assert.True(t, r.Timestamp.Equal(back.Timestamp))
}
