package gatewayserver

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyper-mcp/hyper-mcp/internal/mcpschema"
)

func TestCollectAllDrainsEveryPage(t *testing.T) {
	pages := [][]int{{1, 2}, {3, 4}, {5}}
	calls := 0
	got, err := collectAll(func(cursor string) ([]int, string, error) {
		idx := 0
		if cursor != "" {
			idx = int(cursor[0] - '0')
		}
		calls++
		items := pages[idx]
		next := ""
		if idx+1 < len(pages) {
			next = string(rune('0' + idx + 1))
		}
		return items, next, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
	assert.Equal(t, 3, calls)
}

func TestCollectAllPropagatesPageError(t *testing.T) {
	boom := errors.New("boom")
	_, err := collectAll(func(cursor string) ([]int, string, error) {
		return nil, "", boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestToolToMCPParsesInputSchema(t *testing.T) {
	tool := mcpschema.Tool{
		Name:        "echo",
		Description: "echoes input",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}
	mt := toolToMCP(tool)
	assert.Equal(t, "echo", mt.Name)
	assert.Equal(t, "echoes input", mt.Description)
	require.NotNil(t, mt.InputSchema)
}

func TestToolToMCPToleratesMissingSchema(t *testing.T) {
	mt := toolToMCP(mcpschema.Tool{Name: "echo"})
	assert.Equal(t, "echo", mt.Name)
	assert.Nil(t, mt.InputSchema)
}

func TestResourceToMCPMapsFields(t *testing.T) {
	r := mcpschema.Resource{URI: "file:///a", Name: "a", Description: "desc", MimeType: "text/plain"}
	mr := resourceToMCP(r)
	assert.Equal(t, "file:///a", mr.URI)
	assert.Equal(t, "a", mr.Name)
	assert.Equal(t, "text/plain", mr.MIMEType)
}

func TestTemplateToMCPMapsFields(t *testing.T) {
	tm := mcpschema.ResourceTemplate{URITemplate: "file:///{name}", Name: "tmpl"}
	mt := templateToMCP(tm)
	assert.Equal(t, "file:///{name}", mt.URITemplate)
	assert.Equal(t, "tmpl", mt.Name)
}

func TestPromptToMCPMapsArguments(t *testing.T) {
	p := mcpschema.Prompt{
		Name: "greet",
		Arguments: []mcpschema.PromptArgument{
			{Name: "who", Required: true},
		},
	}
	mp := promptToMCP(p)
	require.Len(t, mp.Arguments, 1)
	assert.Equal(t, "who", mp.Arguments[0].Name)
	assert.True(t, mp.Arguments[0].Required)
}

func TestContentToMCPTextDefault(t *testing.T) {
	c := contentToMCP(mcpschema.Content{Type: "text", Text: "hello"})
	tc, ok := c.(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "hello", tc.Text)
}

func TestContentToMCPImage(t *testing.T) {
	c := contentToMCP(mcpschema.Content{Type: "image", Data: "binary", MimeType: "image/png"})
	ic, ok := c.(*mcp.ImageContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", ic.MIMEType)
	assert.Equal(t, []byte("binary"), ic.Data)
}

func TestCallResultToMCPPreservesIsError(t *testing.T) {
	r := mcpschema.CallToolResult{IsError: true, Content: []mcpschema.Content{{Type: "text", Text: "oops"}}}
	mr := callResultToMCP(r)
	assert.True(t, mr.IsError)
	require.Len(t, mr.Content, 1)
}

func TestReadResultToMCPChoosesBlobOverText(t *testing.T) {
	r := mcpschema.ReadResourceResult{Contents: []mcpschema.ResourceContents{
		{URI: "file:///a", Blob: "binarydata"},
		{URI: "file:///b", Text: "plain text"},
	}}
	mr := readResultToMCP(r)
	require.Len(t, mr.Contents, 2)

	blob, ok := mr.Contents[0].(*mcp.BlobResourceContents)
	require.True(t, ok)
	assert.Equal(t, []byte("binarydata"), blob.Blob)

	text, ok := mr.Contents[1].(*mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "plain text", text.Text)
}

func TestCompleteParamsFromMCPPromptRef(t *testing.T) {
	p := &mcp.CompleteParams{
		Ref:      &mcp.PromptReference{Name: "greet"},
		Argument: mcp.CompleteParamsArgument{Name: "who", Value: "wor"},
	}
	out := completeParamsFromMCP(p)
	assert.Equal(t, "ref/prompt", out.Ref.Type)
	assert.Equal(t, "greet", out.Ref.Name)
	assert.Equal(t, "who", out.Argument.Name)
}

func TestCompleteParamsFromMCPResourceRef(t *testing.T) {
	p := &mcp.CompleteParams{
		Ref: &mcp.ResourceTemplateReference{URI: "file:///{name}"},
	}
	out := completeParamsFromMCP(p)
	assert.Equal(t, "ref/resource", out.Ref.Type)
	assert.Equal(t, "file:///{name}", out.Ref.URI)
}

func TestCompleteResultToMCPMapsValues(t *testing.T) {
	r := mcpschema.CompleteResult{Completion: mcpschema.CompletionValues{
		Values: []string{"a", "b"}, Total: 2, HasMore: true,
	}}
	mr := completeResultToMCP(r)
	assert.Equal(t, []string{"a", "b"}, mr.Completion.Values)
	assert.Equal(t, 2, mr.Completion.Total)
	assert.True(t, mr.Completion.HasMore)
}

func TestGetPromptResultToMCPMapsMessages(t *testing.T) {
	r := mcpschema.GetPromptResult{
		Description: "greeting",
		Messages: []mcpschema.PromptMessage{
			{Role: "user", Content: mcpschema.Content{Type: "text", Text: "hi"}},
		},
	}
	mr := getPromptResultToMCP(r)
	assert.Equal(t, "greeting", mr.Description)
	require.Len(t, mr.Messages, 1)
	assert.Equal(t, mcp.Role("user"), mr.Messages[0].Role)
}
