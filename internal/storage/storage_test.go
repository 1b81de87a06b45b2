package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedNaming() Naming {
	return Naming{
		Now:   func() time.Time { return time.UnixMilli(1700000000000) },
		NewID: func() string { return "abc123" },
	}
}

func TestNaming_Key(t *testing.T) {
	t.Parallel()

	tests := []struct {
		user, file string
		name, key  string
	}{
		{"u1", "photo.PNG", "1700000000000-abc123.png", "uploads/u1/1700000000000-abc123.png"},
		{"u1", "README", "1700000000000-abc123", "uploads/u1/1700000000000-abc123"},
		{"../evil", "x.txt", "1700000000000-abc123.txt", "uploads/__evil/1700000000000-abc123.txt"},
	}
	for _, tt := range tests {
		name, key := fixedNaming().Key(tt.user, tt.file)
		if name != tt.name || key != tt.key {
			t.Errorf("Key(%q, %q) = %q, %q; want %q, %q", tt.user, tt.file, name, key, tt.name, tt.key)
		}
	}
}

func TestNaming_DefaultsAreUnique(t *testing.T) {
	t.Parallel()

	_, a := Naming{}.Key("u", "a.txt")
	_, b := Naming{}.Key("u", "a.txt")
	if a == b {
		t.Errorf("default naming produced duplicate keys: %s", a)
	}
}

func TestChecksum(t *testing.T) {
	t.Parallel()

	if got := Checksum([]byte("hello")); got != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("Checksum = %s", got)
	}
}

func TestFileType(t *testing.T) {
	t.Parallel()

	tests := []struct{ mime, want string }{
		{"image/png", "image"},
		{"video/mp4", "video"},
		{"audio/mpeg", "audio"},
		{"application/pdf", "document"},
		{"application/msword", "document"},
		{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "document"},
		{"application/vnd.ms-excel", "spreadsheet"},
		{"text/plain", "file"},
	}
	for _, tt := range tests {
		if got := FileType(tt.mime); got != tt.want {
			t.Errorf("FileType(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestLocal_UploadServeDelete(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := NewLocal(dir, "http://localhost:8080/files/")
	if err != nil {
		t.Fatal(err)
	}
	l.SetNaming(fixedNaming())

	st, err := l.Upload(context.Background(), Object{UserID: "u1", Filename: "note.txt", MIMEType: "text/plain", Data: []byte("hello")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if st.URL != "http://localhost:8080/files/uploads/u1/1700000000000-abc123.txt" {
		t.Errorf("URL = %s", st.URL)
	}
	if st.Size != 5 || st.Checksum != Checksum([]byte("hello")) || st.Filename != "1700000000000-abc123.txt" {
		t.Errorf("Stored = %+v", st)
	}
	if data, err := os.ReadFile(filepath.Join(dir, "uploads", "u1", st.Filename)); err != nil || string(data) != "hello" {
		t.Errorf("file on disk = %q, %v", data, err)
	}

	srv := httptest.NewServer(http.StripPrefix("/files", l.Handler()))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/files/" + st.Key)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("serve status = %d", resp.StatusCode)
	}

	if err := l.Delete(context.Background(), st.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := l.Delete(context.Background(), st.Key); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
	if !strings.HasPrefix(st.Key, "uploads/") {
		t.Errorf("key = %s", st.Key)
	}
}
