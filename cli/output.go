package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/compozy/ragchain/engine/knowledge/ingest"
	"github.com/compozy/ragchain/engine/knowledge/query"
	"github.com/compozy/ragchain/engine/knowledge/vectordb"
)

const previewRunes = 240

// printer renders command results. Styling is applied only when writing to a terminal.
type printer struct {
	w       io.Writer
	heading lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	score   lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	p := &printer{
		w:       w,
		heading: lipgloss.NewStyle(),
		label:   lipgloss.NewStyle(),
		muted:   lipgloss.NewStyle(),
		score:   lipgloss.NewStyle(),
	}
	if isTerminal(w) {
		p.heading = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
		p.label = lipgloss.NewStyle().Bold(true)
		p.muted = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
		p.score = lipgloss.NewStyle().Foreground(lipgloss.Color("192"))
	}
	return p
}

// isTerminal checks if we're writing to an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) buildResult(res *ingest.Result, stats vectordb.Stats) {
	p.printf("%s\n", p.heading.Render("Index built"))
	p.printf("  %s %d\n", p.label.Render("documents:"), res.Documents)
	p.printf("  %s %d\n", p.label.Render("chunks:   "), res.Indexed)
	p.printf("  %s %d\n", p.label.Render("dimension:"), stats.Dimension)
	p.printf("  %s %s\n", p.label.Render("metric:   "), stats.Metric)
	p.printf("  %s %s\n", p.label.Render("duration: "), res.Duration.Round(1e6))
}

func (p *printer) results(title string, results []vectordb.Result) {
	p.printf("%s\n", p.heading.Render(title))
	if len(results) == 0 {
		p.printf("  %s\n", p.muted.Render("no matching chunks"))
		return
	}
	for i := range results {
		r := &results[i]
		source, _ := r.Chunk.Metadata["source"].(string)
		if source == "" {
			source = r.Chunk.DocumentID
		}
		p.printf(
			"%d. %s %s\n",
			i+1,
			p.score.Render(fmt.Sprintf("[%.4f]", r.Score)),
			p.muted.Render(fmt.Sprintf("%s #%d", source, r.Chunk.Index)),
		)
		p.printf("   %s\n", preview(r.Chunk.Text))
	}
}

func (p *printer) answer(a *query.Answer) {
	p.printf("%s\n%s\n\n", p.heading.Render("Answer"), a.Text)
	p.results("Sources", a.Sources)
	p.printf("%s\n", p.muted.Render(fmt.Sprintf("query %s in %s", a.QueryID, a.Duration.Round(1e6))))
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "…"
}
