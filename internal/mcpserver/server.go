// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the synced note collection as tools via stdio transport. All reads
// come from the subscription cache and all writes go through reducer calls;
// the vault is never touched directly, so changes flow to every connected
// client the same way.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mikaelwills/spacenotes/internal/frontmatter"
	"github.com/mikaelwills/spacenotes/internal/models"
)

// Store is the remote surface the tools operate on. *spacetime.Client
// satisfies it.
type Store interface {
	UpsertNote(ctx context.Context, n models.Note) error
	DeleteNote(ctx context.Context, id string) error
	MoveNote(ctx context.Context, id, newPath string) error

	NoteByPath(path string) (models.Note, bool)
	AllNotes() []models.Note
	AllFolders() []models.Folder
}

// Server wraps the MCP server with note tools.
type Server struct {
	mcp   *server.MCPServer
	store Store
	newID func() string
	nowMs func() uint64
}

// New creates an MCP server with all note tools registered.
func New(store Store) *Server {
	s := &Server{
		store: store,
		newID: uuid.NewString,
		nowMs: func() uint64 { return uint64(time.Now().UnixMilli()) },
	}

	s.mcp = server.NewMCPServer(
		"SpaceNotes",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List all notes or notes in a specific folder."),
		mcp.WithString("folder", mcp.Description("Optional folder path to list (empty for all)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a Markdown note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note (e.g. folder/note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a new Markdown note at the specified path. "+
			"Optional YAML frontmatter is preserved; the sync identity is managed automatically."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path for the new note (must end with .md)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content, optionally with YAML frontmatter")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace the content of an existing note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the note to update")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New Markdown content")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("append_to_note",
		mcp.WithDescription("Append text to the end of an existing note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the note")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to append")),
	), s.appendToNote)

	s.mcp.AddTool(mcp.NewTool("move_note",
		mcp.WithDescription("Move or rename a note, keeping its identity and history."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Current relative path of the note")),
		mcp.WithString("new_path", mcp.Required(), mcp.Description("New relative path (must end with .md)")),
	), s.moveNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the note to delete")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Search note names and content for a substring (case-insensitive)."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("list_folders",
		mcp.WithDescription("List all folders."),
	), s.listFolders)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := ""
	if f, err := req.RequireString("folder"); err == nil {
		folder = strings.TrimSuffix(f, "/")
	}

	var paths []string
	for _, n := range s.store.AllNotes() {
		if folder != "" && n.FolderPath != folder &&
			!strings.HasPrefix(n.FolderPath, folder+"/") {
			continue
		}
		paths = append(paths, n.Path)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return mcp.NewToolResultText("no notes found"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, ok := s.store.NoteByPath(path)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	m := frontmatter.FromJSON(n.Frontmatter)
	m.Set(frontmatter.IDKey, n.ID)
	return mcp.NewToolResultText(frontmatter.Serialize(m, n.Content)), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !strings.HasSuffix(path, ".md") {
		return mcp.NewToolResultError(fmt.Sprintf("path must end with .md: %s", path)), nil
	}
	if _, exists := s.store.NoteByPath(path); exists {
		return mcp.NewToolResultError(fmt.Sprintf("note already exists: %s", path)), nil
	}

	m, body := frontmatter.Parse(content)
	now := s.nowMs()
	n := models.NewNote(s.newID(), path, body, m.JSON(), uint64(len(body)), now, now)
	if err := s.store.UpsertNote(ctx, n); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", path)), nil
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	prev, ok := s.store.NoteByPath(path)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}

	m, body := frontmatter.Parse(content)
	frontJSON := m.JSON()
	if m.Len() == 0 {
		frontJSON = prev.Frontmatter // bare body keeps existing metadata
	}
	n := models.NewNote(prev.ID, prev.Path, body, frontJSON,
		uint64(len(body)), prev.CreatedTime, s.nowMs())
	if err := s.store.UpsertNote(ctx, n); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %s", path)), nil
}

func (s *Server) appendToNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	prev, ok := s.store.NoteByPath(path)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}

	body := strings.TrimRight(prev.Content, "\n") + "\n\n" + text
	n := models.NewNote(prev.ID, prev.Path, body, prev.Frontmatter,
		uint64(len(body)), prev.CreatedTime, s.nowMs())
	if err := s.store.UpsertNote(ctx, n); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("appended to: %s", path)), nil
}

func (s *Server) moveNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	newPath, err := req.RequireString("new_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !strings.HasSuffix(newPath, ".md") {
		return mcp.NewToolResultError(fmt.Sprintf("new_path must end with .md: %s", newPath)), nil
	}
	n, ok := s.store.NoteByPath(path)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	if _, exists := s.store.NoteByPath(newPath); exists {
		return mcp.NewToolResultError(fmt.Sprintf("target already exists: %s", newPath)), nil
	}
	if err := s.store.MoveNote(ctx, n.ID, newPath); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("moved: %s -> %s", path, newPath)), nil
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, ok := s.store.NoteByPath(path)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	if err := s.store.DeleteNote(ctx, n.ID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", path)), nil
}

type searchHit struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	needle := strings.ToLower(query)

	var hits []searchHit
	for _, n := range s.store.AllNotes() {
		if strings.Contains(strings.ToLower(n.Name), needle) ||
			strings.Contains(strings.ToLower(n.Content), needle) {
			hits = append(hits, searchHit{Path: n.Path, Name: n.Name})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Path < hits[j].Path })
	if len(hits) == 0 {
		return mcp.NewToolResultText("no matches"), nil
	}
	out, _ := json.MarshalIndent(hits, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listFolders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var paths []string
	for _, f := range s.store.AllFolders() {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return mcp.NewToolResultText("no folders"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}
