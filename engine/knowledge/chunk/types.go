package chunk

import "github.com/google/uuid"

const (
	StrategySlidingWindow = "sliding_window"
	StrategyRecursive     = "recursive_text_splitter"
)

// documentNamespace scopes document identifiers derived from source paths.
var documentNamespace = uuid.MustParse("6f1c2a8e-3b4d-5e6f-8a9b-0c1d2e3f4a5b")

// Document represents raw content prior to chunking.
type Document struct {
	ID         string
	SourcePath string
	Text       string
	Metadata   map[string]any
}

// NewDocument builds a document whose ID is stable for a given source path.
func NewDocument(sourcePath, text string) Document {
	return Document{
		ID:         DocumentID(sourcePath),
		SourcePath: sourcePath,
		Text:       text,
	}
}

func DocumentID(sourcePath string) string {
	return uuid.NewSHA1(documentNamespace, []byte(sourcePath)).String()
}

// Settings configures chunking and preprocessing behavior.
type Settings struct {
	Strategy          string
	Size              int
	Overlap           int
	RemoveHTML        bool
	Deduplicate       bool
	NormalizeNewlines bool
}

// Chunk is a bounded slice of a document. Offsets count runes in the
// preprocessed document text and satisfy EndOffset-StartOffset <= Size.
type Chunk struct {
	ID          string
	DocumentID  string
	Index       int
	Text        string
	StartOffset int
	EndOffset   int
	Hash        string
	Metadata    map[string]any
}
