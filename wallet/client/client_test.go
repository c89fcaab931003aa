package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keychat-io/cashu-wallet-go/cashu"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut01"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut06"
)

func TestGetMintInfoCaching(t *testing.T) {
	var calls int
	info := nut06.MintInfo{Name: "test mint", Nuts: nut06.NutsMap{17: map[string]any{"supported": []any{}}}}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(info)
	}))
	defer server.Close()

	c := New(server.URL, 0)

	got, err := c.GetMintInfo(context.Background())
	if err != nil {
		t.Fatalf("error getting mint info: %v", err)
	}
	if got.Name != info.Name {
		t.Fatalf("expected name '%v' but got '%v'", info.Name, got.Name)
	}
	if calls != 1 {
		t.Fatalf("expected 1 request but got %d", calls)
	}

	// second call should be served from cache
	if _, err := c.GetMintInfo(context.Background()); err != nil {
		t.Fatalf("error getting mint info: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cached call to not hit the server, got %d requests", calls)
	}

	// RefreshMintInfo always hits the server
	if _, err := c.RefreshMintInfo(context.Background()); err != nil {
		t.Fatalf("error refreshing mint info: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected RefreshMintInfo to hit the server, got %d requests", calls)
	}
}

func TestGetActiveKeysets(t *testing.T) {
	expected := nut01.GetKeysResponse{
		Keysets: []nut01.Keyset{{Id: "00deadbeef00", Unit: cashu.Sat.String()}},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/keys" {
			t.Errorf("expected path /v1/keys but got %v", r.URL.Path)
		}
		json.NewEncoder(w).Encode(expected)
	}))
	defer server.Close()

	c := New(server.URL, 0)
	got, err := c.GetActiveKeysets(context.Background())
	if err != nil {
		t.Fatalf("error getting active keysets: %v", err)
	}
	if len(got.Keysets) != 1 || got.Keysets[0].Id != expected.Keysets[0].Id {
		t.Fatalf("expected keysets %+v but got %+v", expected.Keysets, got.Keysets)
	}
}

func TestErrorResponseParsing(t *testing.T) {
	cashuErr := cashu.Error{Detail: "amount exceeds limit", Code: cashu.StandardErrCode}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(cashuErr)
	}))
	defer server.Close()

	c := New(server.URL, 0)
	_, err := c.GetMintInfo(context.Background())
	if err == nil {
		t.Fatal("expected error but got nil")
	}

	var got cashu.Error
	if errAs, ok := err.(cashu.Error); ok {
		got = errAs
	} else {
		t.Fatalf("expected error of type cashu.Error but got %T: %v", err, err)
	}
	if got.Detail != cashuErr.Detail || got.Code != cashuErr.Code {
		t.Fatalf("expected error %+v but got %+v", cashuErr, got)
	}
}
