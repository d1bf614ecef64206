package cache

import (
	"bytes"
	"io"
	"net/http"
	"testing"
)

func TestResponseToEntry(t *testing.T) {
	req, _ := http.NewRequest("GET", "https://Blog.example.com/app.js", nil)

	tests := []struct {
		name    string
		resp    *http.Response
		wantErr bool
	}{
		{
			name: "valid response with headers",
			resp: &http.Response{
				StatusCode: 200,
				Header: http.Header{
					"Date":           []string{"Fri, 01 Mar 2024 12:00:00 GMT"},
					"Content-Type":   []string{"application/javascript"},
					"Content-Length": []string{"14"},
				},
				Body:    io.NopCloser(bytes.NewReader([]byte(`console.log()`))),
				Request: req,
			},
			wantErr: false,
		},
		{
			name: "response without body",
			resp: &http.Response{
				StatusCode: 204,
				Header:     http.Header{},
			},
			wantErr: false,
		},
		{
			name:    "nil response",
			resp:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var original []byte
			if tt.resp != nil && tt.resp.Body != nil {
				original, _ = io.ReadAll(tt.resp.Body)
				tt.resp.Body = io.NopCloser(bytes.NewReader(original))
			}

			entry, err := ResponseToEntry(tt.resp, TypeBasic)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResponseToEntry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			// Verify body was read and restored
			body, _ := io.ReadAll(tt.resp.Body)
			if !bytes.Equal(body, original) {
				t.Errorf("restored body = %q, want %q", body, original)
			}
			if !bytes.Equal(entry.Data, original) {
				t.Errorf("entry data = %q, want %q", entry.Data, original)
			}
			if entry.StatusCode != tt.resp.StatusCode {
				t.Errorf("StatusCode = %v, want %v", entry.StatusCode, tt.resp.StatusCode)
			}
			if entry.Type != TypeBasic {
				t.Errorf("Type = %v, want basic", entry.Type)
			}
			if entry.Headers.Get("Content-Length") != "" {
				t.Error("Content-Length should not be stored")
			}
			if entry.CachedAt.IsZero() {
				t.Error("CachedAt was not set")
			}
		})
	}
}

func TestResponseToEntry_URLFromRequest(t *testing.T) {
	req, _ := http.NewRequest("GET", "https://Blog.example.com/app.js#frag", nil)
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Request:    req,
	}
	entry, err := ResponseToEntry(resp, TypeBasic)
	if err != nil {
		t.Fatalf("ResponseToEntry: %v", err)
	}
	if entry.URL != "https://blog.example.com/app.js" {
		t.Errorf("URL = %q", entry.URL)
	}
}

func TestResponseToEntry_IndependentCopy(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader([]byte("abc"))),
	}
	entry, err := ResponseToEntry(resp, TypeBasic)
	if err != nil {
		t.Fatalf("ResponseToEntry: %v", err)
	}
	// Consuming the caller's body must not affect the snapshot
	_, _ = io.ReadAll(resp.Body)
	if string(entry.Data) != "abc" {
		t.Errorf("entry data = %q, want abc", entry.Data)
	}
}

func TestEntryToResponse(t *testing.T) {
	entry := &CacheEntry{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Data:       []byte("<h1>offline</h1>"),
	}
	req, _ := http.NewRequest("GET", "https://blog.example.com/", nil)

	for i := 0; i < 2; i++ {
		resp := EntryToResponse(entry, req)
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "<h1>offline</h1>" {
			t.Errorf("call %d: body = %q", i, body)
		}
		if resp.StatusCode != 200 {
			t.Errorf("StatusCode = %d", resp.StatusCode)
		}
		if resp.Header.Get("Content-Length") != "16" {
			t.Errorf("Content-Length = %q", resp.Header.Get("Content-Length"))
		}
		if resp.Request != req {
			t.Error("Request not attached")
		}
	}

	if entry.Headers.Get("Content-Length") != "" {
		t.Error("EntryToResponse mutated the entry headers")
	}
	if EntryToResponse(nil, req) != nil {
		t.Error("EntryToResponse(nil) should return nil")
	}
}
