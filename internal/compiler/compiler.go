// Package compiler implements CircuitCompiler (C3): discovering circuit
// source files in a workspace, compiling each one out-of-process via the
// project's own toolchain, and assembling a Snapshot of the results (§4.3).
package compiler

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/apperr"
)

var skippedDirs = map[string]bool{
	"node_modules": true,
	"dist":         true,
	"build":        true,
	".tscircuit":   true,
}

var siblingExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true,
}

// File is one compiled output, matching a source circuit file (§3).
type File struct {
	Path       string          `json:"path"`
	Name       string          `json:"name"`
	OutputJSON json.RawMessage `json:"output_json"`
	Metadata   FileMetadata    `json:"metadata"`
}

// FileMetadata carries size/mtime/checksum for one compiled file.
type FileMetadata struct {
	Size     int64     `json:"size"`
	Mtime    time.Time `json:"mtime"`
	Checksum string    `json:"checksum"`
}

// Snapshot is the Compiler's output (§3, §4.3).
type Snapshot struct {
	Success          bool    `json:"success"`
	Files            []File  `json:"files"`
	BuildTimeSeconds float64 `json:"build_time_seconds"`
	Error            string  `json:"error,omitempty"`
}

// ProgressFunc is called as compilation advances. stage is a short label
// ("discovery", "compile", "done"); progress is in [0,100].
type ProgressFunc func(stage string, progress int, message string)

// Config controls Compiler behavior.
type Config struct {
	// CompilerBin is the executable invoked once per source file, given the
	// file's path and a virtual file map on stdin, and expected to print one
	// JSON object (the compiled output) to stdout.
	CompilerBin string
	Timeout     time.Duration
}

// Compiler is CircuitCompiler (§4.3).
type Compiler struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Compiler.
func New(cfg Config, logger *zap.Logger) *Compiler {
	if cfg.CompilerBin == "" {
		cfg.CompilerBin = "tsci"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Compiler{cfg: cfg, logger: logger.Named("compiler")}
}

// Compile walks workspace and compiles every matching circuit file in
// order. The first per-file compile failure aborts the remaining files: it
// is recorded in Snapshot.Error, classified via message content (§4.4's
// non-retryable keyword rule, reused here for compile errors per §7), and
// returned to the caller, which drives the Worker's retry/fail decision for
// the whole attempt — a partial Snapshot is returned alongside the error so
// callers can still see which files compiled before the failure.
func (c *Compiler) Compile(ctx context.Context, workspace string, onProgress ProgressFunc) (*Snapshot, error) {
	start := time.Now()

	sources, err := discoverSources(workspace)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindFatal, "compiler: failed to walk workspace: %w", err)
	}
	report(onProgress, "discovery", 20, fmt.Sprintf("discovered %d source files", len(sources)))

	if len(sources) == 0 {
		report(onProgress, "done", 100, "no circuit source files found")
		return &Snapshot{Success: true, Files: []File{}, BuildTimeSeconds: time.Since(start).Seconds()}, nil
	}

	files := make([]File, 0, len(sources))
	for i, src := range sources {
		file, err := c.compileOne(ctx, workspace, src)
		if err != nil {
			return &Snapshot{
				Success:          false,
				Files:            files,
				BuildTimeSeconds: time.Since(start).Seconds(),
				Error:            err.Error(),
			}, err
		}
		files = append(files, *file)

		progress := 25 + int(math.Floor(70*float64(i+1)/float64(len(sources))))
		report(onProgress, "compile", progress, fmt.Sprintf("compiled %s", src))
	}

	report(onProgress, "done", 100, "compilation complete")
	return &Snapshot{
		Success:          true,
		Files:            files,
		BuildTimeSeconds: time.Since(start).Seconds(),
	}, nil
}

func report(onProgress ProgressFunc, stage string, progress int, message string) {
	if onProgress != nil {
		onProgress(stage, progress, message)
	}
}

// discoverSources walks workspace skipping dotfiles and known build/cache
// directories, returning paths (relative to workspace) of every circuit
// source file (§4.3).
func discoverSources(workspace string) ([]string, error) {
	var sources []string
	err := filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != workspace && (strings.HasPrefix(name, ".") || skippedDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if isCircuitSource(name) {
			rel, err := filepath.Rel(workspace, path)
			if err != nil {
				return err
			}
			sources = append(sources, rel)
		}
		return nil
	})
	return sources, err
}

func isCircuitSource(name string) bool {
	return strings.HasSuffix(name, ".circuit.tsx") ||
		strings.HasSuffix(name, ".circuit.ts") ||
		strings.HasSuffix(name, ".board.tsx")
}

// virtualFileMap builds the map of sibling source files and the project
// manifest passed to the compiler subprocess alongside the entry file
// (§4.3: "resolve into a virtual file map").
func virtualFileMap(workspace, entryRel string) (map[string]string, error) {
	dir := filepath.Join(workspace, filepath.Dir(entryRel))
	vfm := map[string]string{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !siblingExtensions[ext] {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		vfm[e.Name()] = string(content)
	}

	for _, manifest := range []string{"package.json", "tsconfig.json"} {
		p := filepath.Join(workspace, manifest)
		if content, err := os.ReadFile(p); err == nil {
			vfm[manifest] = string(content)
		}
	}
	return vfm, nil
}

type compileRequest struct {
	EntryFile string            `json:"entry_file"`
	Files     map[string]string `json:"files"`
}

// compileOne invokes the compiler subprocess for a single source file,
// reading newline-delimited JSON from stdout the same way the agent's
// restic wrapper parses --json progress lines. The last well-formed line is
// taken as the compiled output.
func (c *Compiler) compileOne(ctx context.Context, workspace, entryRel string) (*File, error) {
	vfm, err := virtualFileMap(workspace, entryRel)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindFatal, "compiler: failed to build virtual file map for %s: %w", entryRel, err)
	}

	absPath := filepath.Join(workspace, entryRel)
	srcBytes, err := os.ReadFile(absPath)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindFatal, "compiler: failed to read %s: %w", entryRel, err)
	}
	checksum := sha256.Sum256(srcBytes)
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindFatal, "compiler: failed to stat %s: %w", entryRel, err)
	}

	req, err := json.Marshal(compileRequest{EntryFile: entryRel, Files: vfm})
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindFatal, "compiler: failed to marshal compile request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.cfg.CompilerBin, "--json")
	cmd.Dir = workspace
	cmd.Stdin = strings.NewReader(string(req))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindFatal, "compiler: failed to open stdout pipe: %w", err)
	}
	var stderrBuf strings.Builder
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrapf(apperr.KindFatal, "compiler: failed to start compiler process: %w", err)
	}

	var output json.RawMessage
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if json.Valid(line) {
			output = append(json.RawMessage(nil), line...)
		}
	}

	if err := cmd.Wait(); err != nil {
		stderr := strings.TrimSpace(stderrBuf.String())
		return nil, apperr.Wrapf(classifyCompileFailure(stderr), "compiler: compile failed for %s: %w\n%s", entryRel, err, stderr)
	}
	if output == nil {
		return nil, apperr.Wrapf(apperr.KindNonRetryable, "compiler: no output produced for %s", entryRel)
	}

	return &File{
		Path:       entryRel,
		Name:       filepath.Base(entryRel),
		OutputJSON: output,
		Metadata: FileMetadata{
			Size:     info.Size(),
			Mtime:    info.ModTime(),
			Checksum: hex.EncodeToString(checksum[:]),
		},
	}, nil
}

// classifyCompileFailure applies §7's message-content rule: a compile error
// is non-retryable only if it smells like an environment/input problem
// (404/403/"private"/"invalid archive"); otherwise it's treated as
// retryable, since a flaky toolchain crash may succeed on a later attempt.
func classifyCompileFailure(message string) apperr.Kind {
	lower := strings.ToLower(message)
	for _, marker := range []string{"404", "403", "private", "invalid archive"} {
		if strings.Contains(lower, marker) {
			return apperr.KindNonRetryable
		}
	}
	return apperr.KindRetryable
}
