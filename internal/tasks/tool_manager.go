package tasks

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"stackanalyser/internal/config"
)

// ToolManager checks that the external analysis tooling is installed.
type ToolManager struct {
	cfg config.ImageJ
}

// NewToolManager creates a new tool manager with configuration
func NewToolManager(cfg config.ImageJ) *ToolManager {
	return &ToolManager{cfg: cfg}
}

// ToolStatus represents the availability of a tool
type ToolStatus struct {
	Available bool
	Version   string
	Path      string
	Error     error
}

// Tool names understood by CheckTool.
const (
	ToolJava   = "java"
	ToolImageJ = "imagej"
)

// CheckTool verifies if a tool is available and working
func (tm *ToolManager) CheckTool(toolName string) ToolStatus {
	switch toolName {
	case ToolJava:
		return tm.checkJava()
	case ToolImageJ:
		return tm.checkImageJ()
	}

	path, err := exec.LookPath(toolName)
	if err != nil {
		return ToolStatus{Available: false, Error: err}
	}
	return ToolStatus{Available: true, Path: path}
}

func (tm *ToolManager) checkJava() ToolStatus {
	binary := tm.cfg.Java
	if binary == "" {
		binary = "java"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return ToolStatus{Available: false, Error: err}
	}

	// java prints its version to stderr
	output, err := exec.Command(path, "-version").CombinedOutput()
	if err != nil {
		if len(output) > 0 {
			return ToolStatus{Available: true, Version: extractVersion(string(output)), Path: path}
		}
		return ToolStatus{Available: false, Path: path, Error: err}
	}
	return ToolStatus{Available: true, Version: extractVersion(string(output)), Path: path}
}

func (tm *ToolManager) checkImageJ() ToolStatus {
	if len(tm.cfg.Classpath) == 0 {
		return ToolStatus{Available: false, Error: fmt.Errorf("imagej classpath is empty")}
	}
	for _, jar := range tm.cfg.Classpath {
		if _, err := os.Stat(jar); err != nil {
			return ToolStatus{Available: false, Path: jar, Error: fmt.Errorf("missing classpath entry: %w", err)}
		}
	}
	info, err := os.Stat(tm.cfg.Path)
	if err != nil {
		return ToolStatus{Available: false, Path: tm.cfg.Path, Error: err}
	}
	if !info.IsDir() {
		return ToolStatus{Available: false, Path: tm.cfg.Path, Error: fmt.Errorf("imagej path is not a directory")}
	}
	return ToolStatus{Available: true, Path: tm.cfg.Path, Version: strings.Join(tm.cfg.Classpath, string(os.PathListSeparator))}
}

// Status returns the status of every tool a run depends on.
func (tm *ToolManager) Status() map[string]ToolStatus {
	return map[string]ToolStatus{
		ToolJava:   tm.CheckTool(ToolJava),
		ToolImageJ: tm.CheckTool(ToolImageJ),
	}
}

// extractVersion extracts version information from tool output
func extractVersion(output string) string {
	lines := strings.Split(output, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "version") || strings.Contains(line, "Version") {
			return line
		}
	}
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0])
	}
	return "unknown"
}
