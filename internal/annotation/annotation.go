// Package annotation implements spec.md §2's AST annotation service: the
// `shadows/` VFS section's per-file JSON overlay of symbol spans.
package annotation

// Symbol is one function or type span extracted from a source file.
type Symbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"` // "function", "method", "struct", "interface", "type_alias"
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Annotations is the per-file overlay `shadows/<path>` wraps around the
// live `current/` content.
type Annotations struct {
	Path     string   `json:"path"`
	Language string   `json:"language"`
	Symbols  []Symbol `json:"symbols"`
}

// Annotator extracts symbol-span annotations from one file's content.
// Implementations must not error on unparseable input — a best-effort
// empty Annotations is always preferable to failing the shadows/ read.
type Annotator interface {
	Annotate(path string, content []byte) (Annotations, error)
}

// Dispatch picks an Annotator by file extension, falling back to NoOp
// for anything it doesn't recognize.
type Dispatch struct {
	byExt map[string]Annotator
}

// NewDispatch builds a Dispatch with Go source routed to a
// tree-sitter-backed annotator and every other extension routed to
// NoOp, per SPEC_FULL.md §4.11.
func NewDispatch() *Dispatch {
	goAnnotator := NewGoAnnotator()
	return &Dispatch{byExt: map[string]Annotator{
		".go": goAnnotator,
	}}
}

func (d *Dispatch) Annotate(path string, content []byte) (Annotations, error) {
	ext := extOf(path)
	if a, ok := d.byExt[ext]; ok {
		return a.Annotate(path, content)
	}
	return NoOp{}.Annotate(path, content)
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

// NoOp is the fallback Annotator for any language without a concrete
// implementation: it always returns an empty symbol list.
type NoOp struct{}

func (NoOp) Annotate(path string, content []byte) (Annotations, error) {
	return Annotations{Path: path, Language: "unknown"}, nil
}
