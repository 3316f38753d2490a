package auth

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseBearer(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "bearer  abc ", want: "abc", ok: true},
		{header: "Basic abc"},
		{header: "Bearer "},
		{header: ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got, ok := ParseBearer(req)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("header=%q got=(%q,%v) want=(%q,%v)", tc.header, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Fatal("empty context should have no principal")
	}
	ctx := WithPrincipal(context.Background(), NewPrincipal("k"))
	p, ok := PrincipalFrom(ctx)
	if !ok || p.APIKey != "k" {
		t.Fatalf("p=%+v ok=%v", p, ok)
	}
	if !strings.HasPrefix(p.ID, "k_") {
		t.Fatalf("ID=%q", p.ID)
	}
}
