package domain

// PayloadKind identifies what is being interpreted.
type PayloadKind string

const (
	PayloadImage PayloadKind = "image"
	PayloadPDF   PayloadKind = "pdf"
	PayloadTable PayloadKind = "table"
	PayloadText  PayloadKind = "text"
)

// Payload is the visual or tabular output handed to a model.
// Construct with the helpers in pkg/payload.
type Payload struct {
	Kind     PayloadKind
	Name     string
	MIMEType string
	Data     []byte
	// URI references the payload in object storage (gs://, https://).
	URI   string
	Table *Table
	Text  string
}

// Binary reports whether the payload travels as bytes rather than prompt text.
func (p *Payload) Binary() bool {
	return p != nil && (p.Kind == PayloadImage || p.Kind == PayloadPDF)
}

// Size returns the number of bytes that would be transferred inline.
func (p *Payload) Size() int64 {
	if p == nil {
		return 0
	}
	return int64(len(p.Data))
}

// Table is a rectangular data set with named columns.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Document is a binary knowledge-base document.
type Document struct {
	Name     string
	MIMEType string
	Data     []byte
	Pages    int
}

// Grounding is knowledge-base content attached to a request.
type Grounding struct {
	// Source identifies where the content came from: the knowledge-base
	// root and its resolved type, or InlineSource for content overrides.
	// A cache for a directory source is superseded when that directory's
	// content changes; inline sources are never superseded.
	Source      string
	Text        string
	Documents   []Document
	Fingerprint string
	// Tokens is the estimated (or counted) token size of the grounding.
	Tokens int
}

// InlineSource marks grounding passed as content rather than loaded from a
// directory.
const InlineSource = "inline"

// Empty reports whether there is nothing to ground against.
func (g *Grounding) Empty() bool {
	return g == nil || (g.Text == "" && len(g.Documents) == 0)
}

// Request is the vendor-neutral request handed to a Backend.
type Request struct {
	System     string
	Prompt     string
	Attachment *Payload
	Grounding  *Grounding

	MaxTokens   int
	Temperature *float64
	Seed        *int64
}

// Response is the result of a non-streaming call.
type Response struct {
	Text  string
	Usage UsageRecord
	// CacheUsed is true when grounding was served from a provider cache.
	CacheUsed bool
}

// StreamChunk is one element of a streaming response. The terminal chunk
// carries Usage and has Done set.
type StreamChunk struct {
	Text      string
	Usage     *UsageRecord
	CacheUsed bool
	Done      bool
	// The remaining fields are set on the terminal chunk only.
	// CacheCreated reports that this call created the provider cache.
	CacheCreated bool
	// Grounded reports that a knowledge base was attached.
	Grounded bool
	// Warnings report degradations such as a failed cache creation.
	Warnings []string
}
