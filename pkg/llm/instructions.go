package llm

import (
	"bytes"
	"strings"
	"text/template"
)

const (
	defaultRefineTemplate = `You are a live caption editor.
Fix punctuation, capitalization and homophones in the transcript fragment.
Do not paraphrase, summarize or translate. Keep the speaker's wording.
Output only the corrected text.
{{- if .Context}}
Session context: {{.Context}}
{{- end}}`

	defaultTranslateTemplate = `You are a simultaneous interpreter.
Translate the transcript fragment{{if .SourceLanguage}} from {{.SourceLanguage}}{{end}} into {{.TargetLanguage}}.
Keep the meaning and register. Output only the translation.
{{- if .Context}}
Session context: {{.Context}}
{{- end}}`

	defaultBatchTemplate = `You are a conference interpreter reviewing a full transcript section.
Translate it{{if .SourceLanguage}} from {{.SourceLanguage}}{{end}} into {{.TargetLanguage}} as polished, well-structured prose.
Resolve recognition errors from context and keep paragraph breaks.
Output only the translation.
{{- if .Context}}
Session context: {{.Context}}
{{- end}}`
)

// InstructionData parameterizes the instruction templates.
type InstructionData struct {
	Context        string
	SourceLanguage string
	TargetLanguage string
}

// Instructions renders system instructions for each stage.
type Instructions struct {
	refine    *template.Template
	translate *template.Template
	batch     *template.Template
}

// NewInstructions parses the given templates; empty strings select the
// built-in defaults.
func NewInstructions(refine, translate, batch string) (*Instructions, error) {
	var err error
	in := &Instructions{}
	if in.refine, err = parseTemplate("refine", refine, defaultRefineTemplate); err != nil {
		return nil, err
	}
	if in.translate, err = parseTemplate("translate", translate, defaultTranslateTemplate); err != nil {
		return nil, err
	}
	if in.batch, err = parseTemplate("batch", batch, defaultBatchTemplate); err != nil {
		return nil, err
	}
	return in, nil
}

// DefaultInstructions returns the built-in templates.
func DefaultInstructions() *Instructions {
	in, err := NewInstructions("", "", "")
	if err != nil {
		panic(err)
	}
	return in
}

// Render returns the instruction text for mode.
func (in *Instructions) Render(mode Mode, data InstructionData) (string, error) {
	if strings.TrimSpace(data.TargetLanguage) == "" {
		data.TargetLanguage = "English"
	}
	data.Context = strings.TrimSpace(data.Context)
	tpl := in.refine
	switch mode {
	case ModeTranslate:
		tpl = in.translate
	case ModeBatch:
		tpl = in.batch
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func parseTemplate(name, text, fallback string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = fallback
	}
	return template.New(name).Option("missingkey=zero").Parse(text)
}
