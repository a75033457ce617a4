package dockhost

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/everydev1618/dockhost/internal/containertest"
)

func localFile(t *testing.T, name, content string, mode os.FileMode) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(p, mode); err != nil {
		t.Fatal(err)
	}
	return p
}

func connected(t *testing.T, rt *containertest.Runtime) *Connection {
	t.Helper()
	conn := newTestConnection(t, rt, "foobar")
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	return conn
}

func TestPutFileRejectsRelativePath(t *testing.T) {
	rt := containertest.New()
	conn := newTestConnection(t, rt, "foobar")
	src := localFile(t, "src", "data", 0o644)

	err := conn.PutFile(context.Background(), src, "tmp/x")
	if !errors.Is(err, ErrBadArgument) {
		t.Errorf("PutFile(relative) error = %v, want %v", err, ErrBadArgument)
	}
	if n := rt.Calls(""); n != 0 {
		t.Errorf("PutFile(relative) made %d runtime calls, want 0", n)
	}
}

func TestPutFileMissingLocal(t *testing.T) {
	rt := containertest.New()
	conn := newTestConnection(t, rt, "foobar")

	err := conn.PutFile(context.Background(), filepath.Join(t.TempDir(), "missing"), "/tmp/x")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("PutFile(missing) error = %v, want %v", err, ErrNotFound)
	}
	if n := rt.Calls(""); n != 0 {
		t.Errorf("PutFile(missing) made %d runtime calls, want 0", n)
	}
}

func TestPutFileRejectsDirectories(t *testing.T) {
	rt := containertest.New()
	conn := newTestConnection(t, rt, "foobar")
	ctx := context.Background()

	if err := conn.PutFile(ctx, t.TempDir(), "/tmp/x"); !errors.Is(err, ErrBadArgument) {
		t.Errorf("PutFile(local dir) error = %v, want %v", err, ErrBadArgument)
	}
	src := localFile(t, "src", "data", 0o644)
	if err := conn.PutFile(ctx, src, "/tmp/"); !errors.Is(err, ErrBadArgument) {
		t.Errorf("PutFile(remote dir) error = %v, want %v", err, ErrBadArgument)
	}
}

func TestPutFileOwnershipAndMode(t *testing.T) {
	rt := containertest.New()
	rt.UID, rt.GID = 501, 20
	conn := newTestConnection(t, rt, "foobar")
	src := localFile(t, "src", "payload", 0o755)

	if err := conn.PutFile(context.Background(), src, "/tmp/x"); err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}

	f, err := rt.ReadFile(conn.ContainerID(), "/tmp/x")
	if err != nil {
		t.Fatal(err)
	}
	if string(f.Data) != "payload" {
		t.Errorf("content = %q, want %q", f.Data, "payload")
	}
	if f.UID != 501 || f.GID != 20 {
		t.Errorf("owner = %d:%d, want 501:20", f.UID, f.GID)
	}
	if f.Mode != 0o700 {
		t.Errorf("mode = %o, want %o", f.Mode, 0o700)
	}
}

func TestPutFileOwnerDiscoveryFails(t *testing.T) {
	rt := containertest.New()
	rt.Scripted = map[string]containertest.Result{
		ownerCommand: {Stderr: "id: unknown user", ExitCode: 1},
	}
	conn := newTestConnection(t, rt, "foobar")
	src := localFile(t, "src", "data", 0o644)

	err := conn.PutFile(context.Background(), src, "/tmp/x")
	if !errors.Is(err, ErrConnectionFailure) {
		t.Errorf("PutFile() error = %v, want %v", err, ErrConnectionFailure)
	}
	if !strings.Contains(err.Error(), "uid/gid") {
		t.Errorf("error %q should mention uid/gid", err)
	}
	if n := rt.Calls("put_archive"); n != 0 {
		t.Errorf("put_archive calls = %d, want 0", n)
	}
}

func TestPutFileUploadRejected(t *testing.T) {
	rt := containertest.New()
	rt.PutErr = errors.New("archive rejected")
	conn := newTestConnection(t, rt, "foobar")
	src := localFile(t, "src", "data", 0o644)

	err := conn.PutFile(context.Background(), src, "/tmp/x")
	if !errors.Is(err, ErrConnectionFailure) {
		t.Errorf("PutFile() error = %v, want %v", err, ErrConnectionFailure)
	}
	if !strings.Contains(err.Error(), "unknown error while sending file") {
		t.Errorf("error %q should report an unknown send error", err)
	}
}

func TestPutFetchRoundTrip(t *testing.T) {
	rt := containertest.New()
	conn := newTestConnection(t, rt, "foobar")
	ctx := context.Background()
	content := "line one\nline two\n\x00binary\xff"
	src := localFile(t, "src", content, 0o644)
	dst := filepath.Join(t.TempDir(), "dst")

	if err := conn.PutFile(ctx, src, "/tmp/x"); err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}
	if err := conn.FetchFile(ctx, "/tmp/x", dst); err != nil {
		t.Fatalf("FetchFile() error = %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != content {
		t.Errorf("fetched content = %q, want %q", got, content)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("fetched mode = %o, want %o", perm, 0o600)
	}
}

func TestFetchFileRejectsRelativePaths(t *testing.T) {
	rt := containertest.New()
	conn := newTestConnection(t, rt, "foobar")
	ctx := context.Background()

	if err := conn.FetchFile(ctx, "/tmp/x", "relative/out"); !errors.Is(err, ErrBadArgument) {
		t.Errorf("FetchFile(local relative) error = %v, want %v", err, ErrBadArgument)
	}
	abs := filepath.Join(t.TempDir(), "out")
	if err := conn.FetchFile(ctx, "tmp/x", abs); !errors.Is(err, ErrBadArgument) {
		t.Errorf("FetchFile(remote relative) error = %v, want %v", err, ErrBadArgument)
	}
	if n := rt.Calls(""); n != 0 {
		t.Errorf("rejected fetches made %d runtime calls, want 0", n)
	}
}

func TestFetchFileMissingRemote(t *testing.T) {
	rt := containertest.New()
	conn := connected(t, rt)

	err := conn.FetchFile(context.Background(), "/nope", filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FetchFile(missing) error = %v, want %v", err, ErrNotFound)
	}
}

func TestFetchFileFollowsSymlinks(t *testing.T) {
	tests := []struct {
		name  string
		links map[string]string
		from  string
	}{
		{"relative", map[string]string{"/etc/link": "real"}, "/etc/link"},
		{"parent relative", map[string]string{"/tmp/link": "../etc/real"}, "/tmp/link"},
		{"absolute", map[string]string{"/tmp/link": "/etc/real"}, "/tmp/link"},
		{"chain", map[string]string{"/tmp/a": "b", "/tmp/b": "/etc/c", "/etc/c": "real"}, "/tmp/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := containertest.New()
			conn := connected(t, rt)
			id := conn.ContainerID()
			rt.Mkdir(id, "/etc")
			rt.WriteFile(id, "/etc/real", []byte("target"), 0o644)
			for link, target := range tt.links {
				rt.Symlink(id, link, target)
			}

			dst := filepath.Join(t.TempDir(), "out")
			if err := conn.FetchFile(context.Background(), tt.from, dst); err != nil {
				t.Fatalf("FetchFile() error = %v", err)
			}
			got, _ := os.ReadFile(dst)
			if string(got) != "target" {
				t.Errorf("content = %q, want %q", got, "target")
			}
			if n, want := rt.Calls("get_archive"), len(tt.links)+1; n != want {
				t.Errorf("get_archive calls = %d, want %d", n, want)
			}
		})
	}
}

func TestFetchFileSymlinkLoop(t *testing.T) {
	tests := []struct {
		name  string
		links map[string]string
		from  string
	}{
		{"self", map[string]string{"/tmp/a": "a"}, "/tmp/a"},
		{"pair", map[string]string{"/tmp/a": "b", "/tmp/b": "/tmp/a"}, "/tmp/a"},
		{"tail loop", map[string]string{"/tmp/a": "b", "/tmp/b": "c", "/tmp/c": "b"}, "/tmp/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := containertest.New()
			conn := connected(t, rt)
			for link, target := range tt.links {
				rt.Symlink(conn.ContainerID(), link, target)
			}

			err := conn.FetchFile(context.Background(), tt.from, filepath.Join(t.TempDir(), "out"))
			if !errors.Is(err, ErrConnectionFailure) {
				t.Errorf("FetchFile() error = %v, want %v", err, ErrConnectionFailure)
			}
			if n, limit := rt.Calls("get_archive"), len(tt.links)+1; n > limit {
				t.Errorf("get_archive calls = %d, want at most %d", n, limit)
			}
		})
	}
}

func TestFetchFileDanglingSymlink(t *testing.T) {
	rt := containertest.New()
	conn := connected(t, rt)
	rt.Symlink(conn.ContainerID(), "/tmp/link", "/nowhere")

	err := conn.FetchFile(context.Background(), "/tmp/link", filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FetchFile(dangling) error = %v, want %v", err, ErrNotFound)
	}
}

func TestFetchFileRejectsDirectory(t *testing.T) {
	rt := containertest.New()
	conn := connected(t, rt)
	rt.WriteFile(conn.ContainerID(), "/tmp/child", []byte("x"), 0o644)

	err := conn.FetchFile(context.Background(), "/tmp", filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrBadArgument) {
		t.Errorf("FetchFile(dir) error = %v, want %v", err, ErrBadArgument)
	}
	if !strings.Contains(err.Error(), "directory transfer is not supported") {
		t.Errorf("error %q should explain directory transfer", err)
	}
}

func TestResolveLink(t *testing.T) {
	tests := []struct {
		link, target, want string
	}{
		{"/etc/link", "real", "/etc/real"},
		{"/etc/link", "../var/x", "/var/x"},
		{"/etc/link", "/abs/x", "/abs/x"},
		{"/link", "x", "/x"},
		{"/a/b/link", "./c", "/a/b/c"},
	}

	for _, tt := range tests {
		if got := resolveLink(tt.link, tt.target); got != tt.want {
			t.Errorf("resolveLink(%q, %q) = %q, want %q", tt.link, tt.target, got, tt.want)
		}
	}
}
