package runcontrol

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxBootstrapFileSize caps how much of a project file gets read into
// memory before system-prompt assembly truncates it further.
const MaxBootstrapFileSize = 10 * 1024 * 1024

// BootstrapFileNames are the well-known files a workspace may contribute
// to the Project Context block, in load order.
var BootstrapFileNames = []string{"AGENTS.md", "SOUL.md", "HEARTBEAT.md"}

// BootstrapLoader reads project context files out of one workspace
// directory, validating that every path stays within it.
type BootstrapLoader struct {
	workspaceDir string
}

// NewBootstrapLoader binds a loader to a workspace root.
func NewBootstrapLoader(workspaceDir string) *BootstrapLoader {
	return &BootstrapLoader{workspaceDir: workspaceDir}
}

// LoadProjectFiles reads every present file in BootstrapFileNames and
// returns them as ProjectFile entries ready for AssembleSystemPrompt.
// Missing files are skipped rather than treated as an error: a workspace
// with no AGENTS.md simply contributes no Project Context section.
// forSubagent excludes HEARTBEAT.md — a subagent has no heartbeat of its
// own, so its content would only confuse a one-shot child run.
func (l *BootstrapLoader) LoadProjectFiles(forSubagent bool) ([]ProjectFile, error) {
	var files []ProjectFile
	for _, name := range BootstrapFileNames {
		if forSubagent && name == "HEARTBEAT.md" {
			continue
		}
		path := filepath.Join(l.workspaceDir, name)
		content, err := l.readValidated(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		files = append(files, ProjectFile{Name: name, Content: content})
	}
	return files, nil
}

// LoadHeartbeatContent reads HEARTBEAT.md specifically, for the heartbeat
// scheduler's own use (it needs the raw content, not folded into a
// ProjectFile).
func (l *BootstrapLoader) LoadHeartbeatContent() (string, error) {
	return l.readValidated(filepath.Join(l.workspaceDir, "HEARTBEAT.md"))
}

func (l *BootstrapLoader) readValidated(path string) (string, error) {
	if err := l.validatePath(path); err != nil {
		return "", fmt.Errorf("runcontrol: invalid bootstrap path: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > MaxBootstrapFileSize {
		return "", fmt.Errorf("runcontrol: bootstrap file %s exceeds maximum size %d", path, MaxBootstrapFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l *BootstrapLoader) validatePath(path string) error {
	absWorkspace, err := filepath.Abs(l.workspaceDir)
	if err != nil {
		return err
	}
	absFile, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}
	rel, err := filepath.Rel(absWorkspace, absFile)
	if err != nil {
		return err
	}
	if strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path is outside workspace: %s", path)
	}
	return nil
}
