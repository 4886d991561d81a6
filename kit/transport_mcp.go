package kit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool is a typed MCP tool handler. Req is decoded from the call arguments.
type Tool[Req any] func(ctx context.Context, req *Req) (any, error)

// RegisterTool adds handler to srv as tool. Arguments that fail to decode and
// handler errors become tool errors (IsError) rather than protocol errors.
// The result is returned as one JSON text content. A nil logger uses
// slog.Default.
func RegisterTool[Req any](srv *mcp.Server, tool *mcp.Tool, logger *slog.Logger, handler Tool[Req]) {
	endpoint := Logging(logger, tool.Name)(func(ctx context.Context, req any) (any, error) {
		return handler(ctx, req.(*Req))
	})
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithTransport(ctx, "mcp")
		req := new(Req)
		if args := call.Params.Arguments; len(args) > 0 {
			if err := json.Unmarshal(args, req); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		resp, err := endpoint(ctx, req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
