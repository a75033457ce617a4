// Package containertest provides an in-memory container.Runtime for tests.
//
// Containers keep a small filesystem of files, directories and symlinks.
// Archive transfer uses real tar framing and exec understands a handful of
// shell builtins, which is enough to drive every dockhost operation without
// a daemon.
package containertest

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/everydev1618/dockhost/container"
	"github.com/everydev1618/dockhost/internal/tarball"
)

type nodeKind int

const (
	nodeFile nodeKind = iota
	nodeDir
	nodeSymlink
)

type node struct {
	kind   nodeKind
	data   []byte
	mode   int64
	uid    int
	gid    int
	target string
}

type fakeContainer struct {
	summary    container.Summary
	autoRemove bool
	running    bool
	uid        int
	gid        int
	fs         map[string]*node
}

type fakeExec struct {
	containerID string
	cmd         []string
	done        bool
	exitCode    int
}

// File describes a file stored inside a fake container.
type File struct {
	Data []byte
	Mode int64
	UID  int
	GID  int
}

// Result is a canned exec outcome.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runtime is an in-memory container.Runtime. The zero value is not usable;
// call New.
type Runtime struct {
	// Unreachable makes Ping and List fail with container.ErrUnavailable.
	Unreachable bool
	// OmitExitCode makes ExecInspect report no exit code.
	OmitExitCode bool
	// PutErr is returned by PutArchive when set.
	PutErr error
	// RunDelay widens the window between List and Run for race tests.
	RunDelay time.Duration
	// UID and GID are the identities reported by `id -u` and `id -g`.
	UID int
	GID int
	// Scripted overrides the result of exact `sh -c` scripts.
	Scripted map[string]Result

	mu         sync.Mutex
	containers map[string]*fakeContainer
	execs      map[string]*fakeExec
	removeErr  map[string]error
	calls      map[string]int
	seq        int
}

var _ container.Runtime = (*Runtime)(nil)

// New creates an empty runtime.
func New() *Runtime {
	return &Runtime{
		UID:        1000,
		GID:        1000,
		containers: make(map[string]*fakeContainer),
		execs:      make(map[string]*fakeExec),
		removeErr:  make(map[string]error),
		calls:      make(map[string]int),
	}
}

// Calls reports how many times op was invoked. An empty op counts every call.
func (r *Runtime) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op == "" {
		total := 0
		for _, n := range r.calls {
			total += n
		}
		return total
	}
	return r.calls[op]
}

func (r *Runtime) record(op string) {
	r.calls[op]++
}

// Ping reports whether the runtime is reachable.
func (r *Runtime) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("ping")
	if r.Unreachable {
		return container.ErrUnavailable
	}
	return nil
}

// List returns running containers matching every label.
func (r *Runtime) List(ctx context.Context, labels map[string]string) ([]container.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("list")
	if r.Unreachable {
		return nil, container.ErrUnavailable
	}

	var out []container.Summary
	for _, c := range r.containers {
		if !c.running || !matches(c.summary.Labels, labels) {
			continue
		}
		s := c.summary
		s.Labels = copyLabels(c.summary.Labels)
		out = append(out, s)
	}
	// Newest first, like the Docker API.
	sort.Slice(out, func(i, j int) bool { return out[i].Created > out[j].Created })
	return out, nil
}

// Run creates a running container.
func (r *Runtime) Run(ctx context.Context, cfg container.RunConfig) (string, error) {
	if r.RunDelay > 0 {
		time.Sleep(r.RunDelay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("run")
	if r.Unreachable {
		return "", container.ErrUnavailable
	}
	if cfg.Image == "" {
		return "", fmt.Errorf("image is required")
	}

	r.seq++
	id := fmt.Sprintf("%012x", r.seq)
	r.containers[id] = &fakeContainer{
		summary: container.Summary{
			ID:      id,
			Image:   cfg.Image,
			Labels:  copyLabels(cfg.Labels),
			Created: int64(r.seq),
			State:   "running",
		},
		autoRemove: cfg.AutoRemove,
		running:    true,
		uid:        r.UID,
		gid:        r.GID,
		fs: map[string]*node{
			"/":    {kind: nodeDir, mode: 0o755},
			"/tmp": {kind: nodeDir, mode: 0o777},
		},
	}
	return id, nil
}

// Inspect reports a container's state.
func (r *Runtime) Inspect(ctx context.Context, id string) (*container.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("inspect")
	c, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	status := "exited"
	if c.running {
		status = "running"
	}
	return &container.State{ID: id, Running: c.running, Status: status}, nil
}

// ExecCreate registers a command for later execution.
func (r *Runtime) ExecCreate(ctx context.Context, id string, cmd []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("exec_create")
	if _, err := r.lookup(id); err != nil {
		return "", err
	}
	r.seq++
	execID := fmt.Sprintf("exec-%d", r.seq)
	r.execs[execID] = &fakeExec{containerID: id, cmd: append([]string(nil), cmd...)}
	return execID, nil
}

// ExecStart runs the command, writing stdout and stderr separately.
func (r *Runtime) ExecStart(ctx context.Context, execID string, stdout, stderr io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("exec_start")
	ex, ok := r.execs[execID]
	if !ok {
		return fmt.Errorf("exec %s: %w", execID, container.ErrNotFound)
	}
	c, err := r.lookup(ex.containerID)
	if err != nil {
		return err
	}
	if len(ex.cmd) == 3 {
		if res, ok := r.Scripted[ex.cmd[2]]; ok {
			io.WriteString(stdout, res.Stdout)
			io.WriteString(stderr, res.Stderr)
			ex.exitCode = res.ExitCode
			ex.done = true
			return nil
		}
	}
	ex.exitCode = c.run(ex.cmd, stdout, stderr)
	ex.done = true
	return nil
}

// ExecInspect reports an exec's exit code.
func (r *Runtime) ExecInspect(ctx context.Context, execID string) (*container.ExecState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("exec_inspect")
	ex, ok := r.execs[execID]
	if !ok {
		return nil, fmt.Errorf("exec %s: %w", execID, container.ErrNotFound)
	}
	if !ex.done || r.OmitExitCode {
		return &container.ExecState{Running: !ex.done}, nil
	}
	code := ex.exitCode
	return &container.ExecState{ExitCode: &code}, nil
}

// PutArchive extracts a tar stream into dir.
func (r *Runtime) PutArchive(ctx context.Context, id, dir string, content io.Reader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("put_archive")
	if r.PutErr != nil {
		return r.PutErr
	}
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	dir = path.Clean(dir)
	if n, ok := c.fs[dir]; !ok || n.kind != nodeDir {
		return fmt.Errorf("%s: %w", dir, container.ErrNotFound)
	}

	tr := tar.NewReader(content)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := path.Join(dir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			c.fs[target] = &node{kind: nodeDir, mode: hdr.Mode, uid: hdr.Uid, gid: hdr.Gid}
		case tar.TypeSymlink:
			c.fs[target] = &node{kind: nodeSymlink, target: hdr.Linkname, uid: hdr.Uid, gid: hdr.Gid}
		default:
			data, err := io.ReadAll(tr)
			if err != nil {
				return err
			}
			c.fs[target] = &node{kind: nodeFile, data: data, mode: hdr.Mode, uid: hdr.Uid, gid: hdr.Gid}
		}
	}
}

// GetArchive returns path as a tar stream. A symlink is archived as a link,
// not followed.
func (r *Runtime) GetArchive(ctx context.Context, id, p string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("get_archive")
	c, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	p = path.Clean(p)
	n, ok := c.fs[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, container.ErrNotFound)
	}

	var data []byte
	switch n.kind {
	case nodeSymlink:
		data, err = tarball.EncodeSymlink(path.Base(p), n.target)
	case nodeFile:
		data, err = archiveFile(path.Base(p), n)
	default:
		data, err = c.archiveDir(p)
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Remove deletes a container.
func (r *Runtime) Remove(ctx context.Context, id string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("remove")
	if err, ok := r.removeErr[id]; ok {
		return err
	}
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	if c.running && !force {
		return fmt.Errorf("container %s is running", id)
	}
	delete(r.containers, id)
	return nil
}

// Close is a no-op.
func (r *Runtime) Close() error { return nil }

// FailRemove makes Remove of id return err.
func (r *Runtime) FailRemove(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeErr[id] = err
}

// Stop stops a container. Auto-remove containers disappear.
func (r *Runtime) Stop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return
	}
	if c.autoRemove {
		delete(r.containers, id)
		return
	}
	c.running = false
}

// Containers returns the IDs of all existing containers.
func (r *Runtime) Containers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.containers))
	for id := range r.containers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Config returns the image and labels a container was created with.
func (r *Runtime) Config(id string) (image string, labels map[string]string, autoRemove bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return "", nil, false
	}
	return c.summary.Image, copyLabels(c.summary.Labels), c.autoRemove
}

// WriteFile stores a file inside a container.
func (r *Runtime) WriteFile(id, p string, data []byte, mode int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	c.fs[path.Clean(p)] = &node{kind: nodeFile, data: append([]byte(nil), data...), mode: mode}
	return nil
}

// Mkdir creates a directory inside a container.
func (r *Runtime) Mkdir(id, p string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	c.fs[path.Clean(p)] = &node{kind: nodeDir, mode: 0o755}
	return nil
}

// Symlink creates a symlink inside a container.
func (r *Runtime) Symlink(id, link, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	c.fs[path.Clean(link)] = &node{kind: nodeSymlink, target: target}
	return nil
}

// ReadFile returns a regular file stored inside a container.
func (r *Runtime) ReadFile(id, p string) (*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	n, ok := c.fs[path.Clean(p)]
	if !ok || n.kind != nodeFile {
		return nil, fmt.Errorf("%s: %w", p, container.ErrNotFound)
	}
	return &File{Data: append([]byte(nil), n.data...), Mode: n.mode, UID: n.uid, GID: n.gid}, nil
}

func (r *Runtime) lookup(id string) (*fakeContainer, error) {
	c, ok := r.containers[id]
	if !ok {
		return nil, fmt.Errorf("container %s: %w", id, container.ErrNotFound)
	}
	return c, nil
}

// run interprets `sh -c <script>` where script is a chain of simple
// commands joined by "&&".
func (c *fakeContainer) run(cmd []string, stdout, stderr io.Writer) int {
	if len(cmd) != 3 || cmd[0] != "sh" || cmd[1] != "-c" {
		fmt.Fprintf(stderr, "unsupported command %q\n", cmd)
		return 126
	}
	for _, part := range strings.Split(cmd[2], "&&") {
		if code := c.builtin(strings.Fields(part), stdout, stderr); code != 0 {
			return code
		}
	}
	return 0
}

func (c *fakeContainer) builtin(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return 0
	}
	switch args[0] {
	case "true":
		return 0
	case "false":
		return 1
	case "exit":
		if len(args) > 1 {
			if n, err := strconv.Atoi(args[1]); err == nil {
				return n
			}
		}
		return 0
	case "echo":
		fmt.Fprintln(stdout, strings.Join(args[1:], " "))
		return 0
	case "id":
		if len(args) == 2 && args[1] == "-u" {
			fmt.Fprintln(stdout, c.uid)
			return 0
		}
		if len(args) == 2 && args[1] == "-g" {
			fmt.Fprintln(stdout, c.gid)
			return 0
		}
		fmt.Fprintln(stderr, "id: unsupported arguments")
		return 1
	case "touch":
		for _, p := range args[1:] {
			p = path.Clean(p)
			if _, ok := c.fs[p]; ok {
				continue
			}
			if parent, ok := c.fs[path.Dir(p)]; !ok || parent.kind != nodeDir {
				fmt.Fprintf(stderr, "touch: %s: No such file or directory\n", p)
				return 1
			}
			c.fs[p] = &node{kind: nodeFile, mode: 0o644, uid: c.uid, gid: c.gid}
		}
		return 0
	case "cat":
		for _, p := range args[1:] {
			n, err := c.resolve(path.Clean(p))
			if err != nil || n.kind != nodeFile {
				fmt.Fprintf(stderr, "cat: can't open '%s': No such file or directory\n", p)
				return 1
			}
			stdout.Write(n.data)
		}
		return 0
	default:
		fmt.Fprintf(stderr, "sh: %s: not found\n", args[0])
		return 127
	}
}

// resolve follows symlinks for commands that read files.
func (c *fakeContainer) resolve(p string) (*node, error) {
	for i := 0; i < 40; i++ {
		n, ok := c.fs[p]
		if !ok {
			return nil, container.ErrNotFound
		}
		if n.kind != nodeSymlink {
			return n, nil
		}
		if path.IsAbs(n.target) {
			p = path.Clean(n.target)
		} else {
			p = path.Join(path.Dir(p), n.target)
		}
	}
	return nil, fmt.Errorf("%s: too many levels of symbolic links", p)
}

func (c *fakeContainer) archiveDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	base := path.Base(dir)
	if err := tw.WriteHeader(&tar.Header{Typeflag: tar.TypeDir, Name: base + "/", Mode: 0o755}); err != nil {
		return nil, err
	}

	var children []string
	for p := range c.fs {
		if p != dir && strings.HasPrefix(p, strings.TrimSuffix(dir, "/")+"/") {
			children = append(children, p)
		}
	}
	sort.Strings(children)
	for _, p := range children {
		n := c.fs[p]
		name := base + strings.TrimPrefix(p, strings.TrimSuffix(dir, "/"))
		hdr := &tar.Header{Name: name, Mode: n.mode, Uid: n.uid, Gid: n.gid}
		switch n.kind {
		case nodeDir:
			hdr.Typeflag = tar.TypeDir
			hdr.Name += "/"
		case nodeSymlink:
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = n.target
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(n.data))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if n.kind == nodeFile {
			if _, err := tw.Write(n.data); err != nil {
				return nil, err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func archiveFile(name string, n *node) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     int64(len(n.data)),
		Mode:     n.mode,
		Uid:      n.uid,
		Gid:      n.gid,
	}); err != nil {
		return nil, err
	}
	if _, err := tw.Write(n.data); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func matches(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func copyLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
