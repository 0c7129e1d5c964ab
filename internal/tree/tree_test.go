package tree_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/requestrepo/internal/tree"
)

func TestDefaultSeedsIndexWithoutServerHeader(t *testing.T) {
	tr := tree.Default(false, "example.com")
	assert.True(t, tr.HasIndex())

	resp := tr.Root[tree.IndexPath].File
	require.NotNil(t, resp)
	assert.Equal(t, 200, resp.StatusCode)
	for _, h := range resp.Headers {
		assert.NotEqual(t, "Server", h.Name)
	}
}

func TestDefaultSeedsServerHeaderWhenEnabled(t *testing.T) {
	tr := tree.Default(true, "example.com")
	resp := tr.Root[tree.IndexPath].File
	require.NotNil(t, resp)

	var found bool
	for _, h := range resp.Headers {
		if h.Name == "Server" && h.Value == "example.com" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestWalkLeafWins(t *testing.T) {
	tr := tree.New()
	tr.Root["foo"] = &tree.Node{File: &tree.Response{RawB64: "Zm9v", StatusCode: 201}}
	tr.Root[tree.IndexPath] = &tree.Node{File: &tree.Response{StatusCode: 200}}

	resp := tr.Walk("/foo")
	require.NotNil(t, resp)
	assert.Equal(t, 201, resp.StatusCode)
}

func TestWalkDescendsIntoDir(t *testing.T) {
	tr := tree.New()
	tr.Root["a/"] = &tree.Node{Dir: map[string]*tree.Node{
		"b": {File: &tree.Response{StatusCode: 202}},
	}}
	tr.Root[tree.IndexPath] = &tree.Node{File: &tree.Response{StatusCode: 200}}

	resp := tr.Walk("/a/b")
	require.NotNil(t, resp)
	assert.Equal(t, 202, resp.StatusCode)
}

func TestWalkFallsBackToIndexWhenUnmatched(t *testing.T) {
	tr := tree.New()
	tr.Root[tree.IndexPath] = &tree.Node{File: &tree.Response{StatusCode: 200}}

	resp := tr.Walk("/nonexistent/path")
	require.NotNil(t, resp)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestWalkCollapsesDuplicateSlashes(t *testing.T) {
	tr := tree.New()
	tr.Root["a/"] = &tree.Node{Dir: map[string]*tree.Node{
		"b": {File: &tree.Response{StatusCode: 203}},
	}}

	resp := tr.Walk("//a////b")
	require.NotNil(t, resp)
	assert.Equal(t, 203, resp.StatusCode)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	original := tree.Default(false, "")
	original.Root["dir/"] = &tree.Node{Dir: map[string]*tree.Node{
		"nested": {File: &tree.Response{
			RawB64:     "aGVsbG8=",
			Headers:    []tree.Header{{Name: "Content-Type", Value: "text/plain"}},
			StatusCode: 404,
		}},
	}}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded tree.Tree
	require.NoError(t, json.Unmarshal(data, &decoded))

	nested := decoded.Walk("/dir/nested")
	require.NotNil(t, nested)
	assert.Equal(t, 404, nested.StatusCode)
	assert.Equal(t, "aGVsbG8=", nested.RawB64)
}

func TestMarshalProducesNestedMapShape(t *testing.T) {
	tr := tree.New()
	tr.Root["dir/"] = &tree.Node{Dir: map[string]*tree.Node{
		"leaf": {File: &tree.Response{StatusCode: 200}},
	}}

	data, err := json.Marshal(tr)
	require.NoError(t, err)

	// The wire format is a nested map of maps, not a tagged-union shape —
	// the leaf key appears, and the Go field names File/Dir never do.
	assert.True(t, strings.Contains(string(data), `"leaf"`))
	assert.False(t, strings.Contains(string(data), `"File"`))
	assert.False(t, strings.Contains(string(data), `"Dir"`))
}

func TestValidateRejectsMissingIndex(t *testing.T) {
	data := []byte(`{"foo": {"raw": "", "headers": [], "status_code": 200}}`)
	err := tree.Validate(data, 1024)
	assert.Error(t, err)
}

func TestValidateRejectsOversizedFile(t *testing.T) {
	data := []byte(`{"index.html": {"raw": "aaaaaaaaaa", "headers": [], "status_code": 200}}`)
	err := tree.Validate(data, 4)
	assert.Error(t, err)
}

func TestValidateRejectsMalformedFile(t *testing.T) {
	data := []byte(`{"index.html": {"headers": [], "status_code": 200}}`)
	err := tree.Validate(data, 1024)
	assert.Error(t, err)
}

func TestValidateAcceptsWellFormedTree(t *testing.T) {
	data := []byte(`{
		"index.html": {"raw": "aGVsbG8=", "headers": [{"header":"Content-Type","value":"text/html"}], "status_code": 200},
		"assets/": {
			"style.css": {"raw": "", "headers": [], "status_code": 200}
		}
	}`)
	assert.NoError(t, tree.Validate(data, 1024))
}
