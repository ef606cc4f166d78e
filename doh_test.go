/*
File: doh_test.go
Version: 1.0.0
Description: Tests for the DNS-over-HTTPS JSON transport against a local
             httptest server.
*/

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func dohQuery(t *testing.T, handler http.HandlerFunc) ([]string, error) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tr := newDoHTransport(srv.URL, 0, 2*time.Second)
	q, err := Sanitize("hello there", DefaultZone)
	if err != nil {
		t.Fatal(err)
	}
	return tr.Query(context.Background(), q)
}

func TestDoHQuery(t *testing.T) {
	txts, err := dohQuery(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("name"); got != "hello-there.ch.at" {
			t.Errorf("name param = %q", got)
		}
		if got := r.URL.Query().Get("type"); got != "TXT" {
			t.Errorf("type param = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/dns-json" {
			t.Errorf("Accept header = %q", got)
		}
		w.Write([]byte(`{"Status":0,"Answer":[{"type":16,"data":"\"the answer\""}]}`))
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(txts) != 1 || txts[0] != "the answer" {
		t.Errorf("TXT = %q, want [the answer]", txts)
	}
}

func TestDoHSkipsNonTXTAnswers(t *testing.T) {
	txts, err := dohQuery(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Status":0,"Answer":[{"type":1,"data":"192.0.2.1"},{"type":16,"data":"\"keep\""}]}`))
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(txts) != 1 || txts[0] != "keep" {
		t.Errorf("TXT = %q, want [keep]", txts)
	}
}

func TestDoHStatusError(t *testing.T) {
	_, err := dohQuery(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if err == nil {
		t.Fatal("non-200 response accepted")
	}
}

func TestDoHMalformedBody(t *testing.T) {
	_, err := dohQuery(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	})
	if err == nil {
		t.Fatal("non-JSON body accepted")
	}
}

func TestStripTXTQuotes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`"plain"`, "plain"},
		{`unquoted`, "unquoted"},
		{`"first part" "second part"`, "first partsecond part"},
		{`""`, ""},
	}
	for _, tc := range cases {
		if got := stripTXTQuotes(tc.in); got != tc.want {
			t.Errorf("stripTXTQuotes(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
