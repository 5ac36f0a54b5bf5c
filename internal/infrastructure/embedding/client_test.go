package embedding

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbedImage(t *testing.T) {
	t.Parallel()

	var gotAuth, gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed-image" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key")
	vec, err := client.EmbedImage(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("EmbedImage error: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Fatalf("unexpected vector: %v", vec)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("auth header: got %q", gotAuth)
	}
	if gotContentType != "application/octet-stream" {
		t.Fatalf("content type: got %q", gotContentType)
	}
	if string(gotBody) != "jpeg-bytes" {
		t.Fatalf("body: got %q", gotBody)
	}
}

func TestEmbedImageServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, "").EmbedImage(context.Background(), nil); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
