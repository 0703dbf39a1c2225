package testserver

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonResponse(body string) *Response {
	return &Response{
		Path:       "/users/1",
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(body),
	}
}

func TestResponse_JSON(t *testing.T) {
	res := jsonResponse(`{"user": {"name": "ada", "tags": ["x", "y"]}}`)

	assert.Equal(t, "ada", res.JSON("user.name").String())
	assert.Equal(t, "y", res.JSON("user.tags.1").String())
	assert.False(t, res.JSON("user.missing").Exists())
	assert.Equal(t, "application/json", res.ContentType())
}

func TestResponse_BodyJSON(t *testing.T) {
	var out struct {
		User struct {
			Name string `json:"name"`
		} `json:"user"`
	}

	require.NoError(t, jsonResponse(`{"user": {"name": "ada"}}`).BodyJSON(&out))
	assert.Equal(t, "ada", out.User.Name)

	err := jsonResponse(`not json`).BodyJSON(&out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/users/1")
}

func TestResponse_ValidateSchema(t *testing.T) {
	schema := `{
		"type": "object",
		"required": ["id", "name"],
		"properties": {
			"id": {"type": "integer"},
			"name": {"type": "string"}
		}
	}`

	assert.NoError(t, jsonResponse(`{"id": 1, "name": "ada"}`).ValidateSchema(schema))

	err := jsonResponse(`{"id": "one"}`).ValidateSchema(schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match schema")
	assert.Contains(t, err.Error(), "name")
}

func TestResponse_Cookie(t *testing.T) {
	res := &Response{Header: http.Header{
		"Set-Cookie": {"a=1; Path=/", "garbage", "b=2; HttpOnly"},
	}}

	require.NotNil(t, res.Cookie("b"))
	assert.Equal(t, "2", res.Cookie("b").Value)
	assert.True(t, res.Cookie("b").HttpOnly)
	assert.Equal(t, "/", res.Cookie("a").Path)
	assert.Nil(t, res.Cookie("c"))
}

func TestResponse_StatusHelpers(t *testing.T) {
	tests := []struct {
		statusCode  int
		success     bool
		clientError bool
		serverError bool
	}{
		{200, true, false, false},
		{204, true, false, false},
		{302, false, false, false},
		{404, false, true, false},
		{503, false, false, true},
	}

	for _, tt := range tests {
		res := &Response{StatusCode: tt.statusCode}
		assert.Equal(t, tt.success, res.IsSuccess(), "StatusCode: %d", tt.statusCode)
		assert.Equal(t, tt.clientError, res.IsClientError(), "StatusCode: %d", tt.statusCode)
		assert.Equal(t, tt.serverError, res.IsServerError(), "StatusCode: %d", tt.statusCode)
	}
}
