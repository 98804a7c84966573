package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deepserve/deepserve/internal/observability"
)

const (
	// DefaultTimeout bounds a sandbox command when the caller passes none.
	DefaultTimeout = 120 * time.Second

	// MaxTimeout is the hard ceiling a caller-supplied timeout is clamped to.
	MaxTimeout = 600 * time.Second

	// WorkspaceDir is the container working directory every mount hangs off.
	WorkspaceDir = "/workspace"

	maxOutputBytes   = 30000
	defaultReadLimit = 500
	globLimit        = 100
	grepLimit        = 50
)

// ExecuteResult is the outcome of one shell command.
type ExecuteResult struct {
	Output    string
	ExitCode  int
	Truncated bool
}

// WriteResult reports a completed file write.
type WriteResult struct {
	Path  string
	Lines int
}

func (r *WriteResult) String() string {
	return fmt.Sprintf("Wrote %d lines to %s", r.Lines, r.Path)
}

// EditResult reports a completed string replacement.
type EditResult struct {
	Path        string
	Occurrences int
}

func (r *EditResult) String() string {
	return fmt.Sprintf("Edited %s: replaced %d occurrence(s)", r.Path, r.Occurrences)
}

// Sandbox binds one conversation to one container. All container I/O is
// serialized through the sandbox mutex; concurrent callers queue.
type Sandbox struct {
	userID         int64
	conversationID string
	runtime        Runtime
	image          ImageConfig
	logger         *observability.Logger

	mu      sync.Mutex
	mounts  []Mount
	created bool
}

// New creates a sandbox handle. The container itself is created lazily on
// first use.
func New(userID int64, conversationID string, runtime Runtime, image ImageConfig, mounts []Mount, logger *observability.Logger) *Sandbox {
	if image.WorkDir == "" {
		image.WorkDir = WorkspaceDir
	}
	return &Sandbox{
		userID:         userID,
		conversationID: conversationID,
		runtime:        runtime,
		image:          image,
		mounts:         mounts,
		logger:         logger,
	}
}

// ContainerName encodes the (user, conversation) pair that owns the
// container.
func (s *Sandbox) ContainerName() string {
	return fmt.Sprintf("deepserve-sandbox-%d-%s", s.userID, s.conversationID)
}

// Image returns the image configuration backing this sandbox.
func (s *Sandbox) Image() ImageConfig {
	return s.image
}

// SetMounts replaces the mount set. If the container already exists with a
// different set it is removed so the next command recreates it.
func (s *Sandbox) SetMounts(ctx context.Context, mounts []Mount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mountsEqual(s.mounts, mounts) {
		return nil
	}
	if s.created {
		if err := s.runtime.Remove(ctx, s.ContainerName()); err != nil {
			return fmt.Errorf("remove container for remount: %w", err)
		}
		s.created = false
	}
	s.mounts = mounts
	return nil
}

// Execute runs a shell command inside the container. Output above the byte
// ceiling is truncated with Truncated set. A zero timeout uses
// DefaultTimeout; anything above MaxTimeout is clamped.
func (s *Sandbox) Execute(ctx context.Context, command string, timeout time.Duration) (*ExecuteResult, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.execLocked(ctx, []string{"bash", "-c", command}, "", timeout)
	if err != nil {
		return nil, err
	}

	out := result.Output
	truncated := false
	if len(out) > maxOutputBytes {
		out = out[:maxOutputBytes] + "\n... [output truncated]"
		truncated = true
	}
	return &ExecuteResult{Output: out, ExitCode: result.ExitCode, Truncated: truncated}, nil
}

// Read returns numbered lines from a file. Offset is the 1-based first line
// to return; limit defaults to 500 lines.
func (s *Sandbox) Read(ctx context.Context, filePath string, offset, limit int) (string, error) {
	if offset < 1 {
		offset = 1
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	s.mu.Lock()
	content, err := s.readLocked(ctx, filePath)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	lines := strings.Split(content, "\n")
	// A trailing newline produces an empty final element; drop it.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if offset > len(lines) {
		return "", fmt.Errorf("offset %d beyond end of file (%d lines)", offset, len(lines))
	}
	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return b.String(), nil
}

// Write creates or overwrites a file, creating parent directories as needed.
func (s *Sandbox) Write(ctx context.Context, filePath, content string) (*WriteResult, error) {
	script := `mkdir -p "$(dirname "$1")" && cat > "$1"`
	s.mu.Lock()
	result, err := s.execLocked(ctx, []string{"bash", "-c", script, "write", filePath}, content, DefaultTimeout)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("write %s: %s", filePath, strings.TrimSpace(result.Output))
	}
	return &WriteResult{Path: filePath, Lines: countLines(content)}, nil
}

// Edit replaces oldStr with newStr in a file. Unless replaceAll is set the
// old string must occur exactly once.
func (s *Sandbox) Edit(ctx context.Context, filePath, oldStr, newStr string, replaceAll bool) (*EditResult, error) {
	if oldStr == "" {
		return nil, fmt.Errorf("old string must not be empty")
	}
	if oldStr == newStr {
		return nil, fmt.Errorf("old and new strings are identical")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.readLocked(ctx, filePath)
	if err != nil {
		return nil, err
	}
	count := strings.Count(content, oldStr)
	if count == 0 {
		return nil, fmt.Errorf("old string not found in %s", filePath)
	}
	if count > 1 && !replaceAll {
		return nil, fmt.Errorf("old string occurs %d times in %s; pass replace_all to replace every occurrence", count, filePath)
	}

	updated := strings.ReplaceAll(content, oldStr, newStr)
	script := `cat > "$1"`
	result, err := s.execLocked(ctx, []string{"bash", "-c", script, "edit", filePath}, updated, DefaultTimeout)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("edit %s: %s", filePath, strings.TrimSpace(result.Output))
	}
	return &EditResult{Path: filePath, Occurrences: count}, nil
}

// Glob expands a shell glob under base (default /workspace) and returns the
// matches as absolute container paths, capped at 100 entries.
func (s *Sandbox) Glob(ctx context.Context, pattern, base string) ([]string, error) {
	if base == "" {
		base = WorkspaceDir
	}
	script := `cd "$1" && { compgen -G "$2" || true; }`
	s.mu.Lock()
	result, err := s.execLocked(ctx, []string{"bash", "-c", script, "glob", base, pattern}, "", DefaultTimeout)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("glob %q in %s: %s", pattern, base, strings.TrimSpace(result.Output))
	}

	var matches []string
	for _, line := range strings.Split(result.Output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !path.IsAbs(line) {
			line = path.Join(base, line)
		}
		matches = append(matches, line)
		if len(matches) == globLimit {
			break
		}
	}
	return matches, nil
}

// GrepMode selects the grep output shape.
type GrepMode string

const (
	GrepContent GrepMode = "content"
	GrepFiles   GrepMode = "files_with_matches"
	GrepCount   GrepMode = "count"
)

// Grep searches file contents under searchPath (default /workspace),
// optionally restricted by a filename glob. Results are capped at 50 lines.
func (s *Sandbox) Grep(ctx context.Context, pattern, searchPath, glob string, mode GrepMode) ([]string, error) {
	if searchPath == "" {
		searchPath = WorkspaceDir
	}
	argv := []string{"grep", "-r", "-I"}
	switch mode {
	case GrepFiles:
		argv = append(argv, "-l")
	case GrepCount:
		argv = append(argv, "-c")
	case GrepContent, "":
		argv = append(argv, "-n")
	default:
		return nil, fmt.Errorf("unknown grep output mode %q", mode)
	}
	if glob != "" {
		argv = append(argv, "--include="+glob)
	}
	argv = append(argv, "-e", pattern, searchPath)

	s.mu.Lock()
	result, err := s.execLocked(ctx, argv, "", DefaultTimeout)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	// grep exits 1 when nothing matches.
	if result.ExitCode > 1 {
		return nil, fmt.Errorf("grep %q in %s: %s", pattern, searchPath, strings.TrimSpace(result.Output))
	}

	var lines []string
	for _, line := range strings.Split(result.Output, "\n") {
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == grepLimit {
			break
		}
	}
	return lines, nil
}

// Ls lists a directory.
func (s *Sandbox) Ls(ctx context.Context, dirPath string) (string, error) {
	if dirPath == "" {
		dirPath = WorkspaceDir
	}
	s.mu.Lock()
	result, err := s.execLocked(ctx, []string{"ls", "-la", "--", dirPath}, "", DefaultTimeout)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("ls %s: %s", dirPath, strings.TrimSpace(result.Output))
	}
	return result.Output, nil
}

// DiscoverFiles lists every file under uploads, intermediate and skills.
// SKILL.md files are left out of the skills listing.
func (s *Sandbox) DiscoverFiles(ctx context.Context) ([]string, error) {
	commands := []string{
		"find /workspace/uploads -type f 2>/dev/null || true",
		"find /workspace/intermediate -type f 2>/dev/null || true",
		"find /workspace/skills -type f ! -name 'SKILL.md' 2>/dev/null || true",
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var files []string
	for _, command := range commands {
		result, err := s.execLocked(ctx, []string{"bash", "-c", command}, "", DefaultTimeout)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(result.Output, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				files = append(files, line)
			}
		}
	}
	return files, nil
}

// Stop stops the container without removing it; the next command restarts
// it with the same mounts.
func (s *Sandbox) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return nil
	}
	if err := s.runtime.Stop(ctx, s.ContainerName()); err != nil {
		return fmt.Errorf("stop sandbox: %w", err)
	}
	s.created = false
	return nil
}

// readLocked returns the raw content of a file. Callers hold s.mu.
func (s *Sandbox) readLocked(ctx context.Context, filePath string) (string, error) {
	result, err := s.execLocked(ctx, []string{"cat", "--", filePath}, "", DefaultTimeout)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("read %s: %s", filePath, strings.TrimSpace(result.Output))
	}
	return result.Output, nil
}

// execLocked ensures the container exists and runs argv, recreating the
// container once if the runtime reports it missing. Callers hold s.mu.
func (s *Sandbox) execLocked(ctx context.Context, argv []string, stdin string, timeout time.Duration) (*ExecResult, error) {
	if err := s.ensureLocked(ctx); err != nil {
		return nil, err
	}
	result, err := s.runtime.Exec(ctx, s.ContainerName(), argv, stdin, timeout)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrContainerMissing) {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Warn(ctx, "sandbox container lost, recreating", "container", s.ContainerName())
	}
	if err := s.runtime.Remove(ctx, s.ContainerName()); err != nil {
		return nil, fmt.Errorf("recreate sandbox: %w", err)
	}
	s.created = false
	if err := s.ensureLocked(ctx); err != nil {
		return nil, fmt.Errorf("recreate sandbox: %w", err)
	}
	result, err = s.runtime.Exec(ctx, s.ContainerName(), argv, stdin, timeout)
	if err != nil {
		return nil, fmt.Errorf("sandbox exec after recreate: %w", err)
	}
	return result, nil
}

func (s *Sandbox) ensureLocked(ctx context.Context) error {
	if s.created {
		return nil
	}
	spec := ContainerSpec{
		Name:    s.ContainerName(),
		Image:   s.image.Image,
		WorkDir: s.image.WorkDir,
		Mounts:  s.mounts,
	}
	if err := s.runtime.EnsureContainer(ctx, spec); err != nil {
		return fmt.Errorf("ensure sandbox container: %w", err)
	}
	s.created = true
	return nil
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

func mountsEqual(a, b []Mount) bool {
	if len(a) != len(b) {
		return false
	}
	keys := func(mounts []Mount) []string {
		out := make([]string, len(mounts))
		for i, m := range mounts {
			out[i] = fmt.Sprintf("%s:%s:%t", m.HostPath, m.ContainerPath, m.ReadOnly)
		}
		sort.Strings(out)
		return out
	}
	ak, bk := keys(a), keys(b)
	for i := range ak {
		if ak[i] != bk[i] {
			return false
		}
	}
	return true
}
