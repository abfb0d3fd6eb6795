package paths

import "path/filepath"

// WorkspacesRoot returns the path to the workspace cache root.
func WorkspacesRoot(rootDir string) string {
	return filepath.Join(rootDir, "workspaces")
}

// ConfigFile returns the path of the optional YAML config.
func ConfigFile(rootDir string) string {
	return filepath.Join(rootDir, "gitpush.yaml")
}

// ArchiveFile returns the default path of the task archive database.
func ArchiveFile(rootDir string) string {
	return filepath.Join(rootDir, "archive.db")
}
