package persist //nolint:testpackage // tests the unexported indent default.

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type span struct {
	Start uint64 `json:"start" yaml:"start"`
	Size  uint64 `json:"size"  yaml:"size"`
}

type spaceState struct {
	Name  string `json:"name"  yaml:"name"`
	Spans []span `json:"spans" yaml:"spans"`
}

func sampleState() spaceState {
	return spaceState{
		Name:  "gpu",
		Spans: []span{{Start: 0x40000000, Size: 0x1000}, {Start: 0x80000000, Size: 0x2000}},
	}
}

func TestCodecs_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"json", "gob", "yaml"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			codec, err := CodecFor(name)
			require.NoError(t, err)
			assert.Equal(t, "."+name, codec.Extension())

			var buf bytes.Buffer

			require.NoError(t, codec.Encode(&buf, sampleState()))

			var decoded spaceState

			require.NoError(t, codec.Decode(&buf, &decoded))
			assert.Equal(t, sampleState(), decoded)
		})
	}
}

func TestCodecFor_Unknown(t *testing.T) {
	t.Parallel()

	_, err := CodecFor("xml")
	require.ErrorIs(t, err, ErrUnknownCodec)

	codec, err := CodecFor("YML")
	require.NoError(t, err)
	assert.IsType(t, &YAMLCodec{}, codec)
}

func TestJSONCodec_Indent(t *testing.T) {
	t.Parallel()

	var pretty, compact bytes.Buffer

	require.NoError(t, NewJSONCodec().Encode(&pretty, sampleState()))
	require.NoError(t, (&JSONCodec{}).Encode(&compact, sampleState()))

	assert.Contains(t, pretty.String(), defaultIndent)
	assert.LessOrEqual(t, strings.Count(compact.String(), "\n"), 1)
}

func TestCodecs_DecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		codec Codec
		input string
		want  string
	}{
		{NewJSONCodec(), "not valid json{{{", "json decode"},
		{NewJSONCodec(), `{"name": "x", "color": "red"}`, "json decode"},
		{NewGobCodec(), "not gob data", "gob decode"},
		{NewYAMLCodec(), "name: x\ncolor: red\n", "yaml decode"},
	}

	for _, tt := range tests {
		var decoded spaceState

		err := tt.codec.Decode(strings.NewReader(tt.input), &decoded)
		require.Error(t, err)
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestCodecs_EncodeErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	err := NewJSONCodec().Encode(&buf, make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json encode")

	err = NewGobCodec().Encode(&buf, func() {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gob encode")
}

func TestSaveLoadState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codec := NewYAMLCodec()

	require.NoError(t, SaveState(dir, "gpu", codec, sampleState()))

	_, err := os.Stat(filepath.Join(dir, "gpu.yaml"))
	require.NoError(t, err)

	var loaded spaceState

	require.NoError(t, LoadState(dir, "gpu", codec, &loaded))
	assert.Equal(t, sampleState(), loaded)
}

func TestSaveState_FailureKeepsPrevious(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codec := NewJSONCodec()

	require.NoError(t, SaveState(dir, "gpu", codec, sampleState()))

	err := SaveState(dir, "gpu", codec, make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode")

	var loaded spaceState

	require.NoError(t, LoadState(dir, "gpu", codec, &loaded))
	assert.Equal(t, sampleState(), loaded)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestSaveState_InvalidDirectory(t *testing.T) {
	t.Parallel()

	err := SaveState("/nonexistent/path/that/does/not/exist", "gpu", NewJSONCodec(), sampleState())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create")
}

func TestLoadState_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	var state spaceState

	err := LoadState(dir, "nonexistent", NewJSONCodec(), &state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("not json{{{"), 0o600))

	err = LoadState(dir, "corrupt", NewJSONCodec(), &state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	require.NoError(t, SaveState(dir, "b", NewJSONCodec(), sampleState()))
	require.NoError(t, SaveState(dir, "a", NewJSONCodec(), sampleState()))
	require.NoError(t, SaveState(dir, "c", NewGobCodec(), sampleState()))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "d.json"), 0o700))

	names, err := List(dir, NewJSONCodec())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)

	_, err = List(filepath.Join(dir, "missing"), NewJSONCodec())
	require.Error(t, err)
}
