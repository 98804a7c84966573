package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeRuntime keeps an in-memory filesystem and scripts failures.
type fakeRuntime struct {
	mu          sync.Mutex
	files       map[string]string
	ensureCalls int
	stopCalls   int
	removeCalls int
	execCalls   int

	// missingCount makes the next N Exec calls fail with
	// ErrContainerMissing.
	missingCount int

	// stopGate, when set, blocks Stop until closed.
	stopGate chan struct{}
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{files: map[string]string{}}
}

func (f *fakeRuntime) EnsureContainer(ctx context.Context, spec ContainerSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	return nil
}

func (f *fakeRuntime) Exec(ctx context.Context, name string, argv []string, stdin string, timeout time.Duration) (*ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls++
	if f.missingCount > 0 {
		f.missingCount--
		return nil, fmt.Errorf("exec: %w", ErrContainerMissing)
	}

	switch {
	case len(argv) == 3 && argv[0] == "cat" && argv[1] == "--":
		content, ok := f.files[argv[2]]
		if !ok {
			return &ExecResult{Output: "cat: " + argv[2] + ": No such file or directory", ExitCode: 1}, nil
		}
		return &ExecResult{Output: content, ExitCode: 0}, nil
	case len(argv) == 5 && argv[0] == "bash" && (argv[3] == "write" || argv[3] == "edit"):
		f.files[argv[4]] = stdin
		return &ExecResult{ExitCode: 0}, nil
	case argv[0] == "bash" && strings.HasPrefix(argv[2], "echo-long"):
		return &ExecResult{Output: strings.Repeat("x", maxOutputBytes+100), ExitCode: 0}, nil
	case argv[0] == "bash" && strings.HasPrefix(argv[2], "find "):
		return &ExecResult{Output: f.files["__find:"+argv[2]], ExitCode: 0}, nil
	}
	return &ExecResult{Output: "ok", ExitCode: 0}, nil
}

func (f *fakeRuntime) Stop(ctx context.Context, name string) error {
	f.mu.Lock()
	gate := f.stopGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls++
	return nil
}

func (f *fakeRuntime) counts() (ensure, execs, stops, removes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensureCalls, f.execCalls, f.stopCalls, f.removeCalls
}

func newTestSandbox(rt Runtime) *Sandbox {
	return New(7, "conv-1", rt, DefaultImageConfig(), []Mount{
		{HostPath: "/tmp/uploads", ContainerPath: "/workspace/uploads"},
	}, nil)
}

func TestContainerNameEncodesOwner(t *testing.T) {
	sb := newTestSandbox(newFakeRuntime())
	if sb.ContainerName() != "deepserve-sandbox-7-conv-1" {
		t.Fatalf("ContainerName() = %q", sb.ContainerName())
	}
}

func TestExecuteTruncation(t *testing.T) {
	rt := newFakeRuntime()
	sb := newTestSandbox(rt)

	result, err := sb.Execute(context.Background(), "echo-long", 0)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Truncated {
		t.Fatal("Truncated = false, want true")
	}
	if !strings.HasSuffix(result.Output, "[output truncated]") {
		t.Fatalf("Output does not carry the truncation marker: %q", result.Output[len(result.Output)-40:])
	}

	short, err := sb.Execute(context.Background(), "echo hi", 0)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if short.Truncated {
		t.Fatal("short output marked truncated")
	}
}

func TestExecuteRecreatesMissingContainerOnce(t *testing.T) {
	rt := newFakeRuntime()
	rt.missingCount = 1
	sb := newTestSandbox(rt)

	result, err := sb.Execute(context.Background(), "echo hi", 0)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("ExitCode = %d", result.ExitCode)
	}
	ensure, _, _, removes := rt.counts()
	if ensure != 2 || removes != 1 {
		t.Fatalf("ensure = %d, removes = %d; want 2, 1", ensure, removes)
	}
}

func TestExecuteRepeatedMissingIsFatal(t *testing.T) {
	rt := newFakeRuntime()
	rt.missingCount = 2
	sb := newTestSandbox(rt)

	if _, err := sb.Execute(context.Background(), "echo hi", 0); err == nil {
		t.Fatal("Execute() should fail when the container stays missing")
	}
}

func TestReadNumbersLines(t *testing.T) {
	rt := newFakeRuntime()
	rt.files["/workspace/uploads/data.txt"] = "alpha\nbeta\ngamma\ndelta\n"
	sb := newTestSandbox(rt)

	out, err := sb.Read(context.Background(), "/workspace/uploads/data.txt", 2, 2)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := fmt.Sprintf("%6d\tbeta\n%6d\tgamma\n", 2, 3)
	if out != want {
		t.Fatalf("Read() = %q, want %q", out, want)
	}

	if _, err := sb.Read(context.Background(), "/workspace/uploads/data.txt", 99, 0); err == nil {
		t.Fatal("Read() past end of file should fail")
	}
	if _, err := sb.Read(context.Background(), "/workspace/missing.txt", 1, 0); err == nil {
		t.Fatal("Read() of missing file should fail")
	}
}

func TestWriteCountsLines(t *testing.T) {
	rt := newFakeRuntime()
	sb := newTestSandbox(rt)

	result, err := sb.Write(context.Background(), "/workspace/intermediate/out.csv", "a,b\n1,2\n")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if result.Lines != 2 {
		t.Fatalf("Lines = %d, want 2", result.Lines)
	}
	if got := result.String(); got != "Wrote 2 lines to /workspace/intermediate/out.csv" {
		t.Fatalf("String() = %q", got)
	}
	if rt.files["/workspace/intermediate/out.csv"] != "a,b\n1,2\n" {
		t.Fatalf("file content = %q", rt.files["/workspace/intermediate/out.csv"])
	}
}

func TestEdit(t *testing.T) {
	newRT := func(content string) *fakeRuntime {
		rt := newFakeRuntime()
		rt.files["/workspace/f.txt"] = content
		return rt
	}

	t.Run("single occurrence", func(t *testing.T) {
		rt := newRT("hello world\n")
		sb := newTestSandbox(rt)
		result, err := sb.Edit(context.Background(), "/workspace/f.txt", "world", "there", false)
		if err != nil {
			t.Fatalf("Edit() error = %v", err)
		}
		if result.Occurrences != 1 {
			t.Fatalf("Occurrences = %d", result.Occurrences)
		}
		if rt.files["/workspace/f.txt"] != "hello there\n" {
			t.Fatalf("content = %q", rt.files["/workspace/f.txt"])
		}
	})

	t.Run("multiple occurrences without replace_all", func(t *testing.T) {
		sb := newTestSandbox(newRT("a a a\n"))
		if _, err := sb.Edit(context.Background(), "/workspace/f.txt", "a", "b", false); err == nil {
			t.Fatal("Edit() should fail on ambiguous match")
		}
	})

	t.Run("replace_all", func(t *testing.T) {
		rt := newRT("a a a\n")
		sb := newTestSandbox(rt)
		result, err := sb.Edit(context.Background(), "/workspace/f.txt", "a", "b", true)
		if err != nil {
			t.Fatalf("Edit() error = %v", err)
		}
		if result.Occurrences != 3 {
			t.Fatalf("Occurrences = %d", result.Occurrences)
		}
		if rt.files["/workspace/f.txt"] != "b b b\n" {
			t.Fatalf("content = %q", rt.files["/workspace/f.txt"])
		}
	})

	t.Run("not found", func(t *testing.T) {
		sb := newTestSandbox(newRT("abc\n"))
		if _, err := sb.Edit(context.Background(), "/workspace/f.txt", "zzz", "b", false); err == nil {
			t.Fatal("Edit() should fail when old string is absent")
		}
	})
}

func TestDiscoverFiles(t *testing.T) {
	rt := newFakeRuntime()
	rt.files["__find:find /workspace/uploads -type f 2>/dev/null || true"] = "/workspace/uploads/data.csv\n"
	rt.files["__find:find /workspace/intermediate -type f 2>/dev/null || true"] = "/workspace/intermediate/out.png\n\n"
	rt.files["__find:find /workspace/skills -type f ! -name 'SKILL.md' 2>/dev/null || true"] = "/workspace/skills/pdf/scripts/run.py\n"
	sb := newTestSandbox(rt)

	files, err := sb.DiscoverFiles(context.Background())
	if err != nil {
		t.Fatalf("DiscoverFiles() error = %v", err)
	}
	want := []string{
		"/workspace/uploads/data.csv",
		"/workspace/intermediate/out.png",
		"/workspace/skills/pdf/scripts/run.py",
	}
	if len(files) != len(want) {
		t.Fatalf("DiscoverFiles() = %v", files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestStopOnlyAfterCreation(t *testing.T) {
	rt := newFakeRuntime()
	sb := newTestSandbox(rt)

	if err := sb.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, _, stops, _ := rt.counts(); stops != 0 {
		t.Fatal("Stop() before any command should not hit the runtime")
	}

	if _, err := sb.Execute(context.Background(), "echo hi", 0); err != nil {
		t.Fatal(err)
	}
	if err := sb.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, _, stops, _ := rt.counts(); stops != 1 {
		t.Fatalf("stops = %d, want 1", stops)
	}
}
