// CLAUDE:SUMMARY Registers codec encode, decode and sniff handlers on a connectivity Router for inter-service RPC.
package codec

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/hazyhaar/docsync/connectivity"
	"github.com/hazyhaar/docsync/snapshot"
)

// RegisterConnectivity registers codec service handlers on a connectivity Router.
//
// Registered services:
//
//	codec_encode: render content in a kind
//	codec_decode: parse bytes of a kind into content
//	codec_sniff:  resolve a file name to a descriptor
func (r *Registry) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal("codec_encode", r.handleEncode)
	router.RegisterLocal("codec_decode", r.handleDecode)
	router.RegisterLocal("codec_sniff", r.handleSniff)
}

type encodeReq struct {
	Kind    Kind          `json:"kind"`
	Content snapshot.Node `json:"content"`
}

type decodeReq struct {
	Kind Kind   `json:"kind"`
	Data []byte `json:"data"`
}

type sniffReq struct {
	Name string `json:"name"`
}

func (r *Registry) handleEncode(_ context.Context, payload []byte) ([]byte, error) {
	var req encodeReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: request: %v", ErrMalformedInput, err)
	}
	out, err := r.Encode(snapshot.Content{Root: req.Content}, req.Kind)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"kind": req.Kind, "data": out})
}

func (r *Registry) handleDecode(_ context.Context, payload []byte) ([]byte, error) {
	var req decodeReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: request: %v", ErrMalformedInput, err)
	}
	c, err := r.Decode(req.Kind, req.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"content": c.Root})
}

func (r *Registry) handleSniff(_ context.Context, payload []byte) ([]byte, error) {
	var req sniffReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: request: %v", ErrMalformedInput, err)
	}
	d, ok := r.Sniff(req.Name)
	if !ok {
		return nil, unsupported("file %q", req.Name)
	}
	return json.Marshal(d)
}
