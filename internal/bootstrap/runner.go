package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"
)

const (
	dataDirName     = "var"
	logFileName     = "test.log"
	timestampLayout = "2006-01-02 15:04:05"
)

// Failure classes reported by Run. Callers match them with errors.Is.
var (
	ErrCreateDir = errors.New("create data directory")
	ErrIdentity  = errors.New("resolve user identity")
	ErrAppend    = errors.New("append log entry")
)

// Clock reports the current wall-clock time.
type Clock func() time.Time

// Identity reports the name of the user the process runs as.
type Identity func() (string, error)

// Runner performs the diagnostic bootstrap action: it guarantees the
// working-data directory exists and appends one timestamped line naming the
// invoking user to the diagnostic log. It is the smoke test that filesystem
// permissions, working-directory resolution and process identity are sane.
type Runner struct {
	baseDir  string
	clock    Clock
	identity Identity
}

// Result describes a completed bootstrap run.
type Result struct {
	Dir  string
	File string
	Line string
}

// New returns a Runner rooted at baseDir. Nil clock or identity fall back to
// the real wall clock and OS user lookup.
func New(baseDir string, clock Clock, identity Identity) *Runner {
	if baseDir == "" {
		baseDir = "."
	}
	if clock == nil {
		clock = time.Now
	}
	if identity == nil {
		identity = currentUsername
	}
	return &Runner{baseDir: baseDir, clock: clock, identity: identity}
}

// Entry composes the diagnostic line from the injected clock and identity
// without touching the filesystem.
func (r *Runner) Entry() (string, error) {
	name, err := r.identity()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentity, err)
	}
	ts := r.clock().Format(timestampLayout)
	return ts + "  - Test log entry from user " + name + "\n", nil
}

// Run ensures the data directory exists and appends one diagnostic line to
// the log file. The directory is created non-recursively; an existing
// directory is left untouched. The line goes out in a single write so
// concurrent runs cannot interleave partial lines.
func (r *Runner) Run() (Result, error) {
	dir := filepath.Join(r.baseDir, dataDirName)
	if err := os.Mkdir(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return Result{}, fmt.Errorf("%w: %v", ErrCreateDir, err)
	}

	line, err := r.Entry()
	if err != nil {
		return Result{}, err
	}

	file := filepath.Join(dir, logFileName)
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrAppend, err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("%w: %v", ErrAppend, err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrAppend, err)
	}

	return Result{Dir: dir, File: file, Line: line}, nil
}

func currentUsername() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if u.Username == "" {
		return "", errors.New("empty username")
	}
	return u.Username, nil
}
