package retenify

import "embed"

// TemplateFS contains the embedded HTML templates used to render chat transcripts.
//
//go:embed templates/*
var TemplateFS embed.FS

// PromptFS contains the embedded persona definitions used to build generation prompts. A
// persona file can be replaced at runtime through configuration.
//
//go:embed prompts/*
var PromptFS embed.FS
