package assets

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestValidateImage(t *testing.T) {
	img := pngBytes(t)

	tests := []struct {
		name    string
		data    []byte
		max     int64
		wantErr bool
	}{
		{"png", img, 0, false},
		{"empty", nil, 0, true},
		{"html", []byte("<html><body>moved</body></html>"), 0, true},
		{"too large", img, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateImage(tt.data, tt.max)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidImage) {
				t.Errorf("expected ErrInvalidImage, got %v", err)
			}
		})
	}
}

func TestEnsureProfilePic(t *testing.T) {
	img := pngBytes(t)
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		switch r.URL.Path {
		case "/ok.png":
			w.Write(img)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>not an image</html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	f := NewFetcher(srv.Client(), nil)

	t.Run("downloads when missing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "assets", "profile.jpg")
		if !f.EnsureProfilePic(ctx, path, srv.URL+"/ok.png") {
			t.Fatal("expected picture to be present")
		}
		got, err := os.ReadFile(path)
		if err != nil || !bytes.Equal(got, img) {
			t.Fatalf("unexpected file contents (err=%v)", err)
		}
	})

	t.Run("keeps existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profile.jpg")
		if err := os.WriteFile(path, []byte("mine"), 0o644); err != nil {
			t.Fatal(err)
		}
		before := hits
		if !f.EnsureProfilePic(ctx, path, srv.URL+"/ok.png") {
			t.Fatal("expected picture to be present")
		}
		if hits != before {
			t.Error("expected no download")
		}
	})

	t.Run("rejects non-images", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profile.jpg")
		if f.EnsureProfilePic(ctx, path, srv.URL+"/page") {
			t.Fatal("expected failure")
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("expected no file written")
		}
	})

	t.Run("http error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profile.jpg")
		if f.EnsureProfilePic(ctx, path, srv.URL+"/missing") {
			t.Fatal("expected failure")
		}
	})

	t.Run("no url", func(t *testing.T) {
		if f.EnsureProfilePic(ctx, filepath.Join(t.TempDir(), "p.jpg"), "") {
			t.Fatal("expected false")
		}
	})
}
