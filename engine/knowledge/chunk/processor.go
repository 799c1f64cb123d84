package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/compozy/ragchain/engine/core"
	"github.com/compozy/ragchain/engine/knowledge"
	"github.com/tmc/langchaingo/textsplitter"
)

const stage = "chunk"

var (
	newlinePattern = regexp.MustCompile(`\r\n|\r`)
	tagPattern     = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]+>`)
)

// Processor splits documents according to validated settings.
type Processor struct {
	settings Settings
}

// NewProcessor validates settings. Bad sizes surface as knowledge.ErrInvalidConfig.
func NewProcessor(settings Settings) (*Processor, error) {
	if settings.Strategy == "" {
		settings.Strategy = StrategySlidingWindow
	}
	switch {
	case settings.Size <= 0:
		return nil, knowledge.NewError(knowledge.KindInvalidConfig, stage, errors.New("size must be greater than zero"))
	case settings.Overlap < 0:
		return nil, knowledge.NewError(knowledge.KindInvalidConfig, stage, errors.New("overlap cannot be negative"))
	case settings.Overlap >= settings.Size:
		return nil, knowledge.Errorf(
			knowledge.KindInvalidConfig,
			stage,
			"overlap %d must be smaller than size %d",
			settings.Overlap,
			settings.Size,
		)
	}
	if settings.Strategy != StrategySlidingWindow && settings.Strategy != StrategyRecursive {
		return nil, knowledge.Errorf(knowledge.KindInvalidConfig, stage, "unknown strategy %q", settings.Strategy)
	}
	return &Processor{settings: settings}, nil
}

func (p *Processor) Settings() Settings {
	return p.settings
}

// Split chunks a single document.
func (p *Processor) Split(doc Document) ([]Chunk, error) {
	return p.split(doc, nil)
}

// Process splits documents in order. With Deduplicate set, a chunk whose text
// was already emitted for an earlier document or position is dropped.
func (p *Processor) Process(docs []Document) ([]Chunk, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	var seen map[string]struct{}
	if p.settings.Deduplicate {
		seen = make(map[string]struct{})
	}
	chunks := make([]Chunk, 0, len(docs))
	for i := range docs {
		out, err := p.split(docs[i], seen)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, out...)
	}
	return chunks, nil
}

func (p *Processor) split(doc Document, seen map[string]struct{}) ([]Chunk, error) {
	text := p.preprocess(doc.Text)
	if text == "" {
		return nil, nil
	}
	var spans []span
	switch p.settings.Strategy {
	case StrategyRecursive:
		var err error
		spans, err = p.recursiveSpans(text)
		if err != nil {
			return nil, fmt.Errorf("chunk: split document %s: %w", doc.ID, err)
		}
	default:
		spans = slidingWindow(text, p.settings.Size, p.settings.Overlap)
	}
	chunks := make([]Chunk, 0, len(spans))
	for _, s := range spans {
		hash := hashText(s.text)
		if seen != nil {
			if _, dup := seen[hash]; dup {
				continue
			}
			seen[hash] = struct{}{}
		}
		idx := len(chunks)
		metadata := core.CloneMap(doc.Metadata)
		if metadata == nil {
			metadata = make(map[string]any, 3)
		}
		metadata["chunk_index"] = idx
		metadata["document_id"] = doc.ID
		if doc.SourcePath != "" {
			metadata["source_path"] = doc.SourcePath
		}
		chunks = append(chunks, Chunk{
			ID:          hashText(doc.ID + "::" + strconv.Itoa(idx) + "::" + hash),
			DocumentID:  doc.ID,
			Index:       idx,
			Text:        s.text,
			StartOffset: s.start,
			EndOffset:   s.end,
			Hash:        hash,
			Metadata:    metadata,
		})
	}
	return chunks, nil
}

type span struct {
	start int
	end   int
	text  string
}

// slidingWindow walks size-rune windows advancing by size-overlap until the
// text end is covered. The tail window may be shorter and is never empty.
func slidingWindow(text string, size, overlap int) []span {
	runes := []rune(text)
	step := size - overlap
	spans := make([]span, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		spans = append(spans, span{start: start, end: end, text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return spans
}

// recursiveSpans delegates to the separator-aware splitter and locates each
// segment in the source to recover offsets.
func (p *Processor) recursiveSpans(text string) ([]span, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(p.settings.Size),
		textsplitter.WithChunkOverlap(p.settings.Overlap),
	)
	segments, err := splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	spans := make([]span, 0, len(segments))
	searchFrom := 0
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		byteIdx := strings.Index(text[searchFrom:], segment)
		if byteIdx < 0 {
			byteIdx = searchFrom
		} else {
			byteIdx += searchFrom
		}
		start := utf8.RuneCountInString(text[:byteIdx])
		spans = append(spans, span{
			start: start,
			end:   start + utf8.RuneCountInString(segment),
			text:  segment,
		})
		if byteIdx+1 <= len(text) {
			searchFrom = byteIdx + 1
		}
	}
	return spans, nil
}

func (p *Processor) preprocess(text string) string {
	normalized := text
	if p.settings.RemoveHTML {
		normalized = stripHTML(normalized)
	}
	if p.settings.NormalizeNewlines {
		normalized = newlinePattern.ReplaceAllString(normalized, "\n")
	}
	return normalized
}

func stripHTML(input string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(input, " "))
}

func hashText(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}
