// Package models defines the domain records exchanged with the remote store.
package models

import "strings"

// Note represents a markdown document as stored remotely. Paths are
// forward-slash separated, relative to the vault root, with no leading
// slash. Content holds the body only; Frontmatter is the JSON-encoded
// metadata mapping. Times are epoch milliseconds.
type Note struct {
	ID           string `json:"id"`
	Path         string `json:"path"`
	Name         string `json:"name"`
	Content      string `json:"content"`
	FolderPath   string `json:"folder_path"`
	Depth        uint32 `json:"depth"`
	Frontmatter  string `json:"frontmatter"`
	Size         uint64 `json:"size"`
	CreatedTime  uint64 `json:"created_time"`
	ModifiedTime uint64 `json:"modified_time"`
}

// NewNote builds a Note, deriving name, folder path, and depth from path.
func NewNote(id, path, content, frontmatter string, size, created, modified uint64) Note {
	return Note{
		ID:           id,
		Path:         path,
		Name:         NoteName(path),
		Content:      content,
		FolderPath:   FolderPathOf(path),
		Depth:        DepthOf(path),
		Frontmatter:  frontmatter,
		Size:         size,
		CreatedTime:  created,
		ModifiedTime: modified,
	}
}

// Folder represents a directory node within the vault.
type Folder struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Depth uint32 `json:"depth"`
}

// NewFolder builds a Folder, deriving name and depth from path.
func NewFolder(path string) Folder {
	trimmed := strings.TrimSuffix(path, "/")
	name := trimmed
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		name = trimmed[idx+1:]
	}
	return Folder{Path: path, Name: name, Depth: DepthOf(path)}
}

// NoteName returns the display name for a note path: the filename without
// its .md extension.
func NoteName(path string) string {
	name := strings.TrimSuffix(path, ".md")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// FolderPathOf returns the containing-folder path of a note path,
// or "" for a root-level note.
func FolderPathOf(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[:idx]
	}
	return ""
}

// DepthOf counts path separators: the number of segments above the root.
func DepthOf(path string) uint32 {
	return uint32(strings.Count(path, "/"))
}
