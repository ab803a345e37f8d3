package server

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater/gomcp/mcp"
)

func TestNewFuncResourceHandlerValidation(t *testing.T) {
	tests := []struct {
		name    string
		handler interface{}
		wantErr bool
	}{
		{
			name: "struct args",
			handler: func(ctx *Context, args struct {
				ID string `path:"id"`
			}) (interface{}, error) {
				return nil, nil
			},
		},
		{
			name:    "map args",
			handler: func(ctx *Context, args map[string]interface{}) (interface{}, error) { return nil, nil },
		},
		{
			name:    "nil handler",
			handler: nil,
			wantErr: true,
		},
		{
			name:    "missing context parameter",
			handler: func(args map[string]interface{}) (interface{}, error) { return nil, nil },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newFuncResourceHandler("r://x", "", tt.handler)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResourcePathParamBinding(t *testing.T) {
	type params struct {
		Owner string `path:"owner"`
		Repo  string `path:"repo"`
	}

	var got params
	h, err := newFuncResourceHandler("repos://{owner}/{repo}", "", func(ctx *Context, p params) (interface{}, error) {
		got = p
		return "ok", nil
	})
	require.NoError(t, err)

	ctx := &Context{
		Request:    requestWithURI(t, "repos://golang/go"),
		PathParams: map[string]string{"owner": "golang", "repo": "go"},
	}
	contents, err := h.Read(ctx)
	require.NoError(t, err)

	assert.Equal(t, "golang", got.Owner)
	assert.Equal(t, "go", got.Repo)
	require.Len(t, contents, 1)
	assert.Equal(t, "repos://golang/go", contents[0].URI)
	assert.Equal(t, "ok", contents[0].Text)
}

func TestResourceHandlerError(t *testing.T) {
	wantErr := errors.New("read failed")
	h, err := newFuncResourceHandler("r://x", "", func(ctx *Context, args map[string]interface{}) (interface{}, error) {
		return nil, wantErr
	})
	require.NoError(t, err)

	_, err = h.Read(&Context{Request: requestWithURI(t, "r://x")})
	assert.ErrorIs(t, err, wantErr)
}

func TestShapeResourceContents(t *testing.T) {
	req := requestWithURI(t, "r://42")

	// String becomes a text block under the requested URI.
	contents, err := shapeResourceContents(req, "r://{id}", "body")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "r://42", contents[0].URI)
	assert.Equal(t, "text/plain", contents[0].MimeType)
	assert.Equal(t, "body", contents[0].Text)

	// Bytes become a base64 blob.
	contents, err = shapeResourceContents(req, "r://{id}", []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.NotEmpty(t, contents[0].Blob)
	assert.Empty(t, contents[0].Text)

	// Structured values are JSON-encoded.
	contents, err = shapeResourceContents(req, "r://{id}", map[string]int{"n": 7})
	require.NoError(t, err)
	assert.Equal(t, "application/json", contents[0].MimeType)
	assert.JSONEq(t, `{"n":7}`, contents[0].Text)

	// Pre-shaped contents pass through.
	pre := []mcp.ResourceContents{{URI: "r://direct", Text: "x"}}
	contents, err = shapeResourceContents(req, "r://{id}", pre)
	require.NoError(t, err)
	assert.Equal(t, pre, contents)
}

func requestWithURI(t *testing.T, uri string) *mcp.Message {
	t.Helper()
	params, err := json.Marshal(map[string]string{"uri": uri})
	require.NoError(t, err)
	return &mcp.Message{Kind: mcp.KindRequest, ID: 1, Method: "resources/read", Params: params}
}
