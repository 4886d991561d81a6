package codec

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docsync/kit"
)

// RegisterMCP registers codec tools on an MCP server.
func (r *Registry) RegisterMCP(srv *mcp.Server) {
	r.registerConvertTool(srv)
	r.registerSniffTool(srv)
	r.registerFormatsTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- convert ---

type convertReq struct {
	From  Kind   `json:"from"`
	To    Kind   `json:"to"`
	Input string `json:"input"`
}

func (r *Registry) registerConvertTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "codec_convert",
		Description: "Convert a document between formats (from: json, markdown; to: json, markdown, html).",
		InputSchema: inputSchema(map[string]any{
			"from":  map[string]any{"type": "string", "description": "Source kind"},
			"to":    map[string]any{"type": "string", "description": "Target kind"},
			"input": map[string]any{"type": "string", "description": "Source document text"},
		}, []string{"from", "to", "input"}),
	}

	kit.RegisterTool(srv, tool, r.logger, func(_ context.Context, cr *convertReq) (any, error) {
		c, err := r.Decode(cr.From, []byte(cr.Input))
		if err != nil {
			return nil, err
		}
		out, err := r.Encode(c, cr.To)
		if err != nil {
			return nil, err
		}
		return map[string]any{"kind": cr.To, "output": string(out), "empty": c.IsEmpty()}, nil
	})
}

// --- sniff ---

func (r *Registry) registerSniffTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "codec_sniff",
		Description: "Resolve a file name to the format used to import it.",
		InputSchema: inputSchema(map[string]any{
			"name": map[string]any{"type": "string", "description": "File name"},
		}, []string{"name"}),
	}

	kit.RegisterTool(srv, tool, r.logger, func(_ context.Context, sr *sniffReq) (any, error) {
		d, ok := r.Sniff(sr.Name)
		if !ok {
			return nil, unsupported("file %q", sr.Name)
		}
		return map[string]any{"descriptor": d, "importable": canDecode(d.Kind)}, nil
	})
}

// --- formats ---

func (r *Registry) registerFormatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "codec_formats",
		Description: "List the supported document formats.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	kit.RegisterTool(srv, tool, r.logger, func(context.Context, *struct{}) (any, error) {
		return map[string]any{"formats": r.Descriptors()}, nil
	})
}

