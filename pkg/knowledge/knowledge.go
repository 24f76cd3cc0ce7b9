// Package knowledge loads knowledge-base directories used to ground
// interpretations and computes their content fingerprint.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/fpt/kanoa/internal/repository"
	"github.com/fpt/kanoa/pkg/domain"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
	"github.com/fpt/kanoa/pkg/payload"
)

// Type selects which documents are loaded from a knowledge-base directory.
type Type string

const (
	TypeText Type = "text"
	TypePDF  Type = "pdf"
	TypeAuto Type = "auto"
)

// InlineSource is the grounding source for content overrides.
const InlineSource = domain.InlineSource

// Category is the document class derived from the file extension.
type Category string

const (
	CategoryText  Category = "text"
	CategoryPDF   Category = "pdf"
	CategoryImage Category = "image"
)

const (
	charsPerToken = 4
	// TokensPerPDFPage approximates how vendors bill a rendered PDF page.
	TokensPerPDFPage = 258
)

var extensions = map[string]Category{
	".md":       CategoryText,
	".markdown": CategoryText,
	".txt":      CategoryText,
	".rst":      CategoryText,
	".html":     CategoryText,
	".htm":      CategoryText,
	".pdf":      CategoryPDF,
	".png":      CategoryImage,
	".jpg":      CategoryImage,
	".jpeg":     CategoryImage,
}

// ParseType validates a kb_type value. Empty means auto.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case "", TypeAuto:
		return TypeAuto, nil
	case TypeText:
		return TypeText, nil
	case TypePDF:
		return TypePDF, nil
	}
	return "", fmt.Errorf("invalid kb_type %q (expected text, pdf or auto)", s)
}

// Categorize returns the category for a file name and whether it is known.
func Categorize(name string) (Category, bool) {
	c, ok := extensions[strings.ToLower(filepath.Ext(name))]
	return c, ok
}

// File is one loaded knowledge-base document.
type File struct {
	// Path is relative to the knowledge-base root, slash separated.
	Path     string
	Category Category
	Data     []byte
	// Raw is the file as read when Data was converted from it, such as
	// HTML reduced to text. The fingerprint covers Raw.
	Raw   []byte
	Pages int
}

// Base is a loaded knowledge base. Methods are safe for concurrent use.
type Base struct {
	fsys     repository.FilesystemRepository
	root     string
	kbType   Type
	override string
	logger   *pkgLogger.Logger

	mu       sync.RWMutex
	resolved Type
	files    []File
}

// Load reads the knowledge base at root.
func Load(ctx context.Context, fsys repository.FilesystemRepository, root string, kbType Type) (*Base, error) {
	b := &Base{
		fsys:   fsys,
		root:   root,
		kbType: kbType,
		logger: pkgLogger.NewComponentLogger("knowledge"),
	}
	if err := b.Reload(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// FromContent builds a knowledge base from an inline string. It replaces any
// directory content and is never re-read.
func FromContent(content string) *Base {
	return &Base{
		kbType:   TypeText,
		resolved: TypeText,
		override: content,
		logger:   pkgLogger.NewComponentLogger("knowledge"),
		files:    []File{{Path: InlineSource, Category: CategoryText, Data: []byte(content)}},
	}
}

// Source returns the root path, or InlineSource for content overrides.
func (b *Base) Source() string {
	if b.fsys == nil {
		return InlineSource
	}
	return b.root
}

// Type returns the resolved type (never auto after a load).
func (b *Base) Type() Type {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resolved
}

// Files returns the loaded documents sorted by path.
func (b *Base) Files() []File {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]File, len(b.files))
	copy(out, b.files)
	return out
}

// Reload re-reads the directory from disk. Inline bases are unchanged.
func (b *Base) Reload(ctx context.Context) error {
	if b.fsys == nil {
		return nil
	}

	isDir, err := b.fsys.IsDir(ctx, b.root)
	if err != nil {
		return errors.Wrapf(err, "knowledge base %s", b.root)
	}
	if !isDir {
		return errors.Errorf("knowledge base %s is not a directory", b.root)
	}

	all, err := b.walk(ctx, b.root, "")
	if err != nil {
		return err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Path < all[j].Path })

	resolved := b.kbType
	if resolved == TypeAuto || resolved == "" {
		resolved = TypeText
		for _, f := range all {
			if f.Category == CategoryPDF {
				resolved = TypePDF
				break
			}
		}
	}

	files := make([]File, 0, len(all))
	for _, f := range all {
		if resolved == TypeText && f.Category != CategoryText {
			continue
		}
		if f.Category == CategoryPDF {
			pages, err := payload.PageCount(f.Data)
			if err != nil {
				b.logger.WarnWithIntention(pkgLogger.IntentionWarning, "Skipping unreadable PDF", "path", f.Path, "error", err)
				continue
			}
			f.Pages = pages
		}
		files = append(files, f)
	}

	b.mu.Lock()
	b.resolved = resolved
	b.files = files
	b.mu.Unlock()

	b.logger.DebugWithIntention(pkgLogger.IntentionStatistics, "Loaded knowledge base",
		"root", b.root, "type", resolved, "files", len(files))
	return nil
}

func (b *Base) walk(ctx context.Context, dir, rel string) ([]File, error) {
	entries, err := b.fsys.ReadDir(ctx, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read knowledge base directory %s", dir)
	}

	var out []File
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		relPath := path.Join(rel, name)

		if e.IsDir() {
			sub, err := b.walk(ctx, full, relPath)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}

		cat, ok := Categorize(name)
		if !ok {
			continue
		}
		data, err := b.fsys.ReadFile(ctx, full)
		if err != nil {
			return nil, errors.Wrapf(err, "read knowledge base file %s", relPath)
		}
		f := File{Path: relPath, Category: cat, Data: data}
		if isHTML(name) {
			text, err := HTMLText(data)
			if err != nil {
				b.logger.WarnWithIntention(pkgLogger.IntentionWarning, "Skipping unreadable HTML", "path", relPath, "error", err)
				continue
			}
			f.Data, f.Raw = []byte(text), data
		}
		out = append(out, f)
	}
	return out, nil
}

// Text concatenates the text documents, each under a "## path" header.
// An inline base returns its content verbatim.
func (b *Base) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.fsys == nil {
		return b.override
	}
	var sb strings.Builder
	for _, f := range b.files {
		if f.Category != CategoryText {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## ")
		sb.WriteString(f.Path)
		sb.WriteString("\n\n")
		sb.WriteString(strings.TrimSpace(string(f.Data)))
	}
	return sb.String()
}

// EstimateTokens approximates the grounding size in tokens.
func (b *Base) EstimateTokens() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tokens := 0
	for _, f := range b.files {
		switch f.Category {
		case CategoryText:
			tokens += len(f.Data) / charsPerToken
		case CategoryPDF:
			tokens += f.Pages * TokensPerPDFPage
		case CategoryImage:
			tokens += TokensPerPDFPage
		}
	}
	return tokens
}

// Fingerprint is the SHA-256 over every loaded document, in path order.
func (b *Base) Fingerprint() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fingerprintFiles(b.files)
}

// Fingerprint hashes arbitrary knowledge-base bytes.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Each document is length-prefixed so that moving bytes between adjacent
// documents changes the hash.
func fingerprintFiles(files []File) string {
	h := sha256.New()
	var n [8]byte
	for _, f := range files {
		data := f.Data
		if f.Raw != nil {
			data = f.Raw
		}
		binary.BigEndian.PutUint64(n[:], uint64(len(data)))
		h.Write(n[:])
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Grounding converts the knowledge base into the form handed to backends.
func (b *Base) Grounding() *domain.Grounding {
	source := b.Source()
	if b.fsys != nil {
		// A directory read as text and as pdf yields two distinct caches.
		source = fmt.Sprintf("%s (%s)", source, b.Type())
	}
	g := &domain.Grounding{
		Source:      source,
		Text:        b.Text(),
		Fingerprint: b.Fingerprint(),
		Tokens:      b.EstimateTokens(),
	}
	for _, f := range b.Files() {
		switch f.Category {
		case CategoryPDF:
			g.Documents = append(g.Documents, domain.Document{
				Name: f.Path, MIMEType: "application/pdf", Data: f.Data, Pages: f.Pages,
			})
		case CategoryImage:
			p := payload.FromImage(f.Path, f.Data)
			g.Documents = append(g.Documents, domain.Document{
				Name: f.Path, MIMEType: p.MIMEType, Data: f.Data,
			})
		}
	}
	return g
}
