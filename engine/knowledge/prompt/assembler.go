package prompt

import (
	"strings"

	"github.com/compozy/ragchain/engine/knowledge"
	"github.com/compozy/ragchain/engine/knowledge/vectordb"
)

const (
	PlaceholderContext  = "{context}"
	PlaceholderQuestion = "{question}"
	DefaultDelimiter    = "\n"

	stageAssemble = "assemble"
)

// DefaultTemplate is the classic "stuff documents" question answering prompt.
const DefaultTemplate = `Use the following pieces of context to answer the question at the end. ` +
	`If you don't know the answer, just say that you don't know, don't try to make up an answer.

{context}

Question: {question}
Helpful Answer:`

// ExpertTemplate steers the model with the extra domain data placed in the corpus.
const ExpertTemplate = `Tu es un assistant expert qui prend en compte des données supplémentaires issues d'un fine-tuning simulé.
Voici quelques informations contextuelles :
{context}

En t'appuyant sur ces informations, répond de manière détaillée à la question suivante :
{question}`

const (
	NameDefault = "default"
	NameExpert  = "expert"
)

// ResolveTemplate maps a preset name to its template. Any other value is returned
// unchanged and treated as a literal template.
func ResolveTemplate(ref string) string {
	switch strings.ToLower(strings.TrimSpace(ref)) {
	case "", NameDefault:
		return DefaultTemplate
	case NameExpert:
		return ExpertTemplate
	default:
		return ref
	}
}

// Request is the rendered generation input.
type Request struct {
	Context  string
	Question string
	Prompt   string
}

// Assembler renders retrieved chunks and a question into a prompt.
type Assembler struct {
	template  string
	delimiter string
}

type Option func(*Assembler)

func WithDelimiter(delimiter string) Option {
	return func(a *Assembler) {
		a.delimiter = delimiter
	}
}

// NewAssembler fails with a template error unless both placeholders are present.
func NewAssembler(template string, opts ...Option) (*Assembler, error) {
	if err := Validate(template); err != nil {
		return nil, err
	}
	a := &Assembler{template: template, delimiter: DefaultDelimiter}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Validate checks that template carries both placeholders.
func Validate(template string) error {
	var missing []string
	if !strings.Contains(template, PlaceholderContext) {
		missing = append(missing, PlaceholderContext)
	}
	if !strings.Contains(template, PlaceholderQuestion) {
		missing = append(missing, PlaceholderQuestion)
	}
	if len(missing) > 0 {
		return knowledge.Errorf(knowledge.KindTemplateError, stageAssemble,
			"template is missing %s", strings.Join(missing, " and "))
	}
	return nil
}

func (a *Assembler) Template() string {
	return a.template
}

// Assemble joins chunk texts in result order and substitutes every placeholder
// occurrence in one pass, so placeholder text inside chunks or the question stays as is.
func (a *Assembler) Assemble(retrieved []vectordb.Result, question string) Request {
	texts := make([]string, len(retrieved))
	for i := range retrieved {
		texts[i] = retrieved[i].Chunk.Text
	}
	context := strings.Join(texts, a.delimiter)
	replacer := strings.NewReplacer(PlaceholderContext, context, PlaceholderQuestion, question)
	return Request{
		Context:  context,
		Question: question,
		Prompt:   replacer.Replace(a.template),
	}
}
