package updater

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		local, remote string
		want          bool
	}{
		{"2024.01.10", "2024.01.16", true},
		{"2024.01.16", "2024.01.16", false},
		{"2024.02.01", "2024.01.30", false},
		{"2024.01.16", "2024.01.16.1", true},
		{"2024-01-10", "2024.01.11", true},
		{"", "2024.01.01", false},
		{"2024.01.01", "", false},
		{"nightly-a", "nightly-b", true},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.local, tt.remote); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %v, want %v", tt.local, tt.remote, got, tt.want)
		}
	}
}

func fakeBinary(t *testing.T, version string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake yt-dlp requires a unix shell")
	}
	p := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(p, []byte("#!/usr/bin/env bash\necho "+version+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLatestVersion_RetriesAndStripsPrefix(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(`{"tag_name":"v2025.03.01"}`))
	}))
	defer srv.Close()

	c := New(Options{ReleasesURL: srv.URL, UserAgent: "test-agent", RetryMax: 2})
	v, err := c.LatestVersion(context.Background())
	if err != nil {
		t.Fatalf("LatestVersion() failed: %v", err)
	}
	if v != "2025.03.01" {
		t.Fatalf("unexpected version %q", v)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
}

func TestLatestVersion_EmptyTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(Options{ReleasesURL: srv.URL})
	if _, err := c.LatestVersion(context.Background()); !errors.Is(err, ErrNoRelease) {
		t.Fatalf("expected ErrNoRelease, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name":"2025.03.01"}`))
	}))
	defer srv.Close()

	c := New(Options{Binary: fakeBinary(t, "2024.12.13"), ReleasesURL: srv.URL})
	res, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !res.Available || res.Local != "2024.12.13" || res.Remote != "2025.03.01" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCheck_MissingLocal(t *testing.T) {
	c := New(Options{Binary: filepath.Join(t.TempDir(), "none")})
	if _, err := c.Check(context.Background()); !errors.Is(err, ErrUnknownLocal) {
		t.Fatalf("expected ErrUnknownLocal, got %v", err)
	}
}

func TestInstall(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("installed script requires a unix shell")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#!/usr/bin/env bash\necho 2025.03.01\n"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "bin", "yt-dlp")
	c := New(Options{DownloadURL: srv.URL})
	v, err := c.Install(context.Background(), dest)
	if err != nil {
		t.Fatalf("Install() failed: %v", err)
	}
	if v != "2025.03.01" {
		t.Fatalf("unexpected installed version %q", v)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("expected executable, mode %v", info.Mode())
	}
}

func TestOnline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	if !Online(context.Background(), time.Second, addr) {
		t.Fatal("expected listener to be reachable")
	}
	ln.Close()
	if Online(context.Background(), 200*time.Millisecond, addr) {
		t.Fatal("expected closed listener to be unreachable")
	}
}
