package usecase

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Prompts are text/template sources. Empty fields fall back to the defaults.
type Prompts struct {
	CondenseQuestion     string `yaml:"condense_question"`
	ClarifyingQuestion   string `yaml:"clarifying_question"`
	TextQA               string `yaml:"text_qa"`
	Fallback             string `yaml:"fallback"`
	AnalyzeQuestionType  string `yaml:"analyze_question_type"`
	NormalGraphKnowledge string `yaml:"normal_graph_knowledge"`
	IntentGraphKnowledge string `yaml:"intent_graph_knowledge"`
	DecomposeQuery       string `yaml:"decompose_query"`
}

func (p Prompts) withDefaults() Prompts {
	def := DefaultPrompts()
	if strings.TrimSpace(p.CondenseQuestion) == "" {
		p.CondenseQuestion = def.CondenseQuestion
	}
	if strings.TrimSpace(p.ClarifyingQuestion) == "" {
		p.ClarifyingQuestion = def.ClarifyingQuestion
	}
	if strings.TrimSpace(p.TextQA) == "" {
		p.TextQA = def.TextQA
	}
	if strings.TrimSpace(p.Fallback) == "" {
		p.Fallback = def.Fallback
	}
	if strings.TrimSpace(p.AnalyzeQuestionType) == "" {
		p.AnalyzeQuestionType = def.AnalyzeQuestionType
	}
	if strings.TrimSpace(p.NormalGraphKnowledge) == "" {
		p.NormalGraphKnowledge = def.NormalGraphKnowledge
	}
	if strings.TrimSpace(p.IntentGraphKnowledge) == "" {
		p.IntentGraphKnowledge = def.IntentGraphKnowledge
	}
	if strings.TrimSpace(p.DecomposeQuery) == "" {
		p.DecomposeQuery = def.DecomposeQuery
	}
	return p
}

// Validate parses every template.
func (p Prompts) Validate() error {
	p = p.withDefaults()
	for name, src := range map[string]string{
		"condense_question":      p.CondenseQuestion,
		"clarifying_question":    p.ClarifyingQuestion,
		"text_qa":                p.TextQA,
		"fallback":               p.Fallback,
		"analyze_question_type":  p.AnalyzeQuestionType,
		"normal_graph_knowledge": p.NormalGraphKnowledge,
		"intent_graph_knowledge": p.IntentGraphKnowledge,
		"decompose_query":        p.DecomposeQuery,
	} {
		if _, err := parsePrompt(name, src); err != nil {
			return err
		}
	}
	return nil
}

var promptFuncs = template.FuncMap{
	"json": toIndentedJSON,
}

func parsePrompt(name, src string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(promptFuncs).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}
	return tmpl, nil
}

func renderPrompt(name, src string, data any) (string, error) {
	tmpl, err := parsePrompt(name, src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

func DefaultPrompts() Prompts {
	return Prompts{
		CondenseQuestion:     defaultCondenseQuestionPrompt,
		ClarifyingQuestion:   defaultClarifyingQuestionPrompt,
		TextQA:               defaultTextQAPrompt,
		Fallback:             defaultFallbackPrompt,
		AnalyzeQuestionType:  defaultAnalyzeQuestionTypePrompt,
		NormalGraphKnowledge: defaultNormalGraphKnowledge,
		IntentGraphKnowledge: defaultIntentGraphKnowledge,
		DecomposeQuery:       defaultDecomposeQueryPrompt,
	}
}

const defaultCondenseQuestionPrompt = `Current Date: {{.CurrentDate}}
---------------------

Knowledge Graph Context:
{{.GraphKnowledge}}

---------------------

Data Access Status:
The knowledge graph data above has already been filtered by the user's permissions and may be incomplete.

---------------------

Task:
Given the conversation between the Human and the Assistant and the follow-up message from the Human,
rewrite the follow-up message into a standalone, detailed question. Keep the language of the original
question. Give the latest message the most weight and use the knowledge above to make names, accounts
and products explicit. Return only the rewritten question.

Chat history:
{{range .History}}
{{.Role}}: {{.Content}}
{{end}}
---------------------

Follow-up question:
{{.Question}}

Refined standalone question:
`

const defaultClarifyingQuestionPrompt = `---------------------
The prerequisite questions and their relevant knowledge for the user's main question.
---------------------

{{.GraphKnowledge}}

---------------------

Task:
Decide whether the user's question is clear and specific enough for a confident answer.
If it is, return exactly "False".
If it is not, return one specific clarifying question that addresses the missing detail,
in the same language as the user's question.

Chat history:
{{range .History}}
{{.Role}}: {{.Content}}
{{end}}
---------------------

Follow-up question:
{{.Question}}

Response:
`

const defaultTextQAPrompt = `Current Date: {{.CurrentDate}}
---------------------
Knowledge graph information:

{{.GraphKnowledge}}

---------------------
Context information:

{{range $i, $c := .Chunks}}
[{{$i}}] {{$c.Text}}
{{end}}
---------------------

Answer the question using the knowledge graph and the context above. When facts conflict, prefer the
relationship with the higher weight and the more recent modification. Do not invent CRM records that are
not in the context. Answer in the language of the original question and cite nothing that is not given.

Original question: {{.OriginalQuestion}}
Refined question: {{.Question}}

Answer:
`

const defaultFallbackPrompt = `No relevant documents were found for the question below, either because the knowledge base does not
cover it or because the user lacks access to the related data.

Tell the user politely, in the language of the question, that you could not find supporting information,
and suggest how they could rephrase the question or whom they could ask.

Question: {{.Question}}

Response:
`

const defaultAnalyzeQuestionTypePrompt = `Decide whether the question below asks for sales playbook knowledge: selling methods, customer
visit preparation, product features positioned for a customer, objection handling or competitive selling.

Answer with exactly "true" or "false".

Question: {{.Question}}

Answer:
`

const defaultNormalGraphKnowledge = `Given a list of relationships of a knowledge graph as follows. When there is a conflict in meaning between knowledge relationships, the relationship with the higher ` + "`weight`" + ` and newer ` + "`last_modified_at`" + ` value takes precedence.

---------------------
Entities:
{{range .Entities}}
- Name: {{.Name}}
- Description: {{.Description}}
{{end}}
---------------------

Knowledge relationships:
{{range .Relationships}}
- Description: {{.RAGDescription}}
- Weight: {{.Weight}}
- Last Modified At: {{if .LastModifiedAt.IsZero}}unknown{{else}}{{.LastModifiedAt.Format "2006-01-02T15:04:05Z07:00"}}{{end}}
- Meta: {{json .Metadata}}
{{end}}`

const defaultIntentGraphKnowledge = `Given a list of prerequisite questions and their relevant knowledge for the user's main question, when conflicts in meaning arise, prioritize the relationship with the higher weight and the more recent version.

Knowledge sub-queries:
{{range .SubQueries}}
Sub-query: {{.Query}}

  - Entities:
{{range .Entities}}
    - Name: {{.Name}}
    - Description: {{.Description}}
{{end}}
  - Relationships:
{{range .Relationships}}
    - Description: {{.RAGDescription}}
    - Weight: {{.Weight}}
{{end}}
{{end}}`

const defaultDecomposeQueryPrompt = `Break the question below into at most {{.MaxQueries}} self-contained sub-questions that together
cover what must be known to answer it. Return one sub-question per line without numbering.
If the question is already atomic, return it unchanged.

Question: {{.Question}}

Sub-questions:
`
