package main

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docsync/codec"
	"github.com/hazyhaar/docsync/connectivity"
)

func TestRPCHandler(t *testing.T) {
	router := connectivity.New()
	codec.New(codec.Config{}).RegisterConnectivity(router)
	r := chi.NewRouter()
	r.Post("/rpc/{service}", rpcHandler(router, slog.Default()))

	cases := []struct {
		service, body string
		code          int
		contains      string
	}{
		{"codec_sniff", `{"name":"notes.md"}`, 200, `"markdown"`},
		{"codec_sniff", `{"name":"notes.txt"}`, 400, "unsupported"},
		{"codec_sniff", `{`, 400, "malformed"},
		{"absent", `{}`, 404, "absent"},
		{"bad~name", `{}`, 400, "identifier"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/rpc/"+tc.service, strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.code || !strings.Contains(rec.Body.String(), tc.contains) {
			t.Errorf("%s %s: %d %s", tc.service, tc.body, rec.Code, rec.Body.String())
		}
	}
}
