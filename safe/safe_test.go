package safe

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateEndpoint(t *testing.T) {
	cases := []struct {
		url          string
		schemes      []string
		allowPrivate bool
		wantErr      error
	}{
		{"https://203.0.113.10/api", HTTPSchemes, false, nil},
		{"http://127.0.0.1:1235/setEditorState", HTTPSchemes, false, ErrSSRF},
		{"http://127.0.0.1:1235/setEditorState", HTTPSchemes, true, nil},
		{"http://10.1.2.3/x", HTTPSchemes, false, ErrSSRF},
		{"http://192.168.1.1/x", HTTPSchemes, false, ErrSSRF},
		{"http://[::1]/x", HTTPSchemes, false, ErrSSRF},
		{"ftp://203.0.113.10/x", HTTPSchemes, false, ErrUnsafeScheme},
		{"wss://203.0.113.10/rooms/main", WebSocketSchemes, false, nil},
		{"https://203.0.113.10/rooms/main", WebSocketSchemes, false, ErrUnsafeScheme},
	}
	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			_, err := ValidateEndpoint(tc.url, tc.schemes, tc.allowPrivate)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateEndpointNoHost(t *testing.T) {
	if _, err := ValidateEndpoint("http:///path", HTTPSchemes, true); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"main", "room-1", "team_a.notes"} {
		if err := ValidateIdentifier(ok); err != nil {
			t.Errorf("%q: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a/b", "../etc", "sp ace", strings.Repeat("x", 129)} {
		if err := ValidateIdentifier(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 5)
	if err != nil || string(data) != "hello" {
		t.Fatalf("got %q, %v", data, err)
	}
	if _, err := LimitedReadAll(strings.NewReader("hello!"), 5); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}
}
