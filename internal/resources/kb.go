// Package resources implements the resource resolvers behind
// resources/list and resources/read: a shared knowledge base served
// from the filesystem and per-tenant documents served from the store.
package resources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/portcullis/internal/auth"
	"github.com/HyphaGroup/portcullis/internal/registry"
	"github.com/HyphaGroup/portcullis/internal/validation"
)

const kbScheme = "kb"

// KB serves read-only files under a configured root directory as
// kb:// resources. The same files are visible to every tenant; reads
// accept glob patterns (kb://guides/*.md) and expand to one content
// entry per match.
type KB struct {
	root string
}

// NewKB creates the knowledge base resolver. The root may not exist
// yet; an empty or missing root lists zero resources.
func NewKB(root string) (*KB, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving knowledge base root: %w", err)
	}
	return &KB{root: abs}, nil
}

// Scheme implements registry.ResourceResolver
func (k *KB) Scheme() string { return kbScheme }

// RequiredScopes implements registry.ResourceResolver
func (k *KB) RequiredScopes() []string { return []string{auth.ScopeBasic} }

// List walks the root and returns one resource per regular file.
// Hidden files and directories (dot-prefixed) are skipped.
func (k *KB) List(ctx context.Context, call registry.CallContext) ([]*mcp_sdk.Resource, error) {
	var out []*mcp_sdk.Resource
	err := filepath.WalkDir(k.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == k.root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(k.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		out = append(out, &mcp_sdk.Resource{
			URI:      kbScheme + "://" + rel,
			Name:     rel,
			MIMEType: contentTypeFor(rel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing knowledge base: %w", err)
	}
	return out, nil
}

// Read returns the contents for a kb:// URI. A URI containing glob
// metacharacters expands to every matching file; an exact URI must
// name a regular file. Traversal outside the root is rejected before
// the filesystem is touched.
func (k *KB) Read(ctx context.Context, call registry.CallContext, uri string) (*mcp_sdk.ReadResourceResult, error) {
	rel, ok := strings.CutPrefix(uri, kbScheme+"://")
	if !ok || rel == "" {
		return nil, fmt.Errorf("resource %s: %w", uri, registry.ErrNotFound)
	}

	if strings.ContainsAny(rel, "*?") {
		return k.readPattern(uri, rel)
	}
	return k.readFile(uri, rel)
}

func (k *KB) readFile(uri, rel string) (*mcp_sdk.ReadResourceResult, error) {
	clean, err := validation.SanitizePath(rel)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", uri, registry.ErrNotFound)
	}

	contents, err := k.loadFile(uri, clean)
	if err != nil {
		return nil, err
	}
	return &mcp_sdk.ReadResourceResult{Contents: []*mcp_sdk.ResourceContents{contents}}, nil
}

func (k *KB) readPattern(uri, pattern string) (*mcp_sdk.ReadResourceResult, error) {
	clean, err := validation.SanitizePattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", uri, registry.ErrNotFound)
	}

	matches, err := filepath.Glob(filepath.Join(k.root, filepath.FromSlash(clean)))
	if err != nil {
		return nil, fmt.Errorf("resource %s: bad pattern: %w", uri, registry.ErrNotFound)
	}

	result := &mcp_sdk.ReadResourceResult{}
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(k.root, match)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		contents, err := k.loadFile(kbScheme+"://"+rel, rel)
		if err != nil {
			return nil, err
		}
		result.Contents = append(result.Contents, contents)
	}
	if len(result.Contents) == 0 {
		return nil, fmt.Errorf("resource %s: no matches: %w", uri, registry.ErrNotFound)
	}
	return result, nil
}

func (k *KB) loadFile(uri, rel string) (*mcp_sdk.ResourceContents, error) {
	full := filepath.Join(k.root, filepath.FromSlash(rel))

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("resource %s: %w", uri, registry.ErrNotFound)
		}
		return nil, fmt.Errorf("resource %s: %w", uri, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("resource %s is a directory: %w", uri, registry.ErrNotFound)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", uri, err)
	}

	contents := &mcp_sdk.ResourceContents{
		URI:      uri,
		MIMEType: contentTypeFor(rel),
	}
	if isTextType(contents.MIMEType) {
		contents.Text = string(data)
	} else {
		contents.Blob = data
	}
	return contents, nil
}

// contentTypeFor infers a MIME type from a filename extension. Common
// knowledge base extensions are pinned so results do not depend on the
// host's mime tables.
func contentTypeFor(name string) string {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case "":
		return "application/octet-stream"
	default:
		if mt := mime.TypeByExtension(ext); mt != "" {
			return mt
		}
		return "application/octet-stream"
	}
}

// isTextType reports whether contents of this MIME type travel as
// text rather than a base64 blob.
func isTextType(mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	switch mimeType {
	case "application/json", "application/yaml", "application/xml", "application/javascript":
		return true
	}
	return false
}
