package denylist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ompomz/flowgazer/internal/config"
)

func TestFetchParsesAndNormalizes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<nglist>
  <term> Spam </term>
  <term>SCAM</term>
  <term></term>
  <term>casino</term>
</nglist>`))
	}))
	defer server.Close()

	terms, err := Fetch(context.Background(), &config.Denylist{URL: server.URL}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"spam", "scam", "casino"}
	if len(terms) != len(want) {
		t.Fatalf("expected %d terms, got %v", len(want), terms)
	}
	for i, term := range want {
		if terms[i] != term {
			t.Errorf("term %d: expected %q, got %q", i, term, terms[i])
		}
	}
}

func TestFetchErrors(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer notFound.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not xml"))
	}))
	defer garbage.Close()

	cases := []struct {
		name string
		url  string
	}{
		{"not found", notFound.URL},
		{"malformed body", garbage.URL},
		{"unreachable", "http://127.0.0.1:1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Fetch(context.Background(), &config.Denylist{URL: tc.url, FetchTimeoutMs: 500}, nil); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestFetchWithoutURL(t *testing.T) {
	terms, err := Fetch(context.Background(), &config.Denylist{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if terms != nil {
		t.Fatalf("expected no terms, got %v", terms)
	}
}
