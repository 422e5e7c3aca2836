package dispatch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/vk/taskdispatch/internal/script"
	"github.com/vk/taskdispatch/internal/taskctx"
)

const (
	defaultJobsDirName = "taskdispatch-jobs"
	untitledJobName    = "untitled"
	maxJobDirAttempts  = 100
)

var jobDirRegex = regexp.MustCompile(`^\d{6}$`)

// jobsDirectory returns the directory job directories are created in.
func (s *Settings) jobsDirectory() string {
	if s.JobsDirectory != "" {
		return s.JobsDirectory
	}
	return filepath.Join(os.TempDir(), defaultJobsDirName)
}

// jobName returns the configured job name, falling back to the script name.
func (s *Settings) jobName(c taskctx.Context) string {
	if s.JobName != "" {
		return s.JobName
	}
	return c.String(script.NameKey, untitledJobName)
}

// createJobDirectory creates the next free JobsDirectory/JobName/NNNNNN
// directory. Concurrent dispatches racing for the same number retry with the
// following one.
func createJobDirectory(parent string) (string, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("failed to create jobs directory %s: %w", parent, err)
	}

	entries, err := os.ReadDir(parent)
	if err != nil {
		return "", fmt.Errorf("failed to list jobs directory %s: %w", parent, err)
	}
	next := 0
	for _, entry := range entries {
		if !jobDirRegex.MatchString(entry.Name()) {
			continue
		}
		n, err := strconv.Atoi(entry.Name())
		if err == nil && n >= next {
			next = n + 1
		}
	}

	for attempt := 0; attempt < maxJobDirAttempts; attempt++ {
		dir := filepath.Join(parent, fmt.Sprintf("%06d", next+attempt))
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to create job directory %s: %w", dir, err)
		}
	}
	return "", fmt.Errorf("failed to create a job directory in %s after %d attempts", parent, maxJobDirAttempts)
}

// scriptFileName returns where the dispatched script is saved inside dir.
func scriptFileName(dir, graphFileName string) string {
	name := "untitled.hcl"
	if graphFileName != "" {
		name = filepath.Base(graphFileName)
	}
	return filepath.Join(dir, name)
}

// saveScript writes src to path unless the file already exists.
func saveScript(path string, src []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save script to %s: %w", path, err)
	}
	if _, err := f.Write(src); err != nil {
		f.Close()
		return fmt.Errorf("failed to save script to %s: %w", path, err)
	}
	return f.Close()
}
