// Package openaicompat provides the HTTP transport for every upstream that
// speaks the OpenAI Chat Completions protocol.
//
// OpenAI, Groq, Together, Anyscale, DeepSeek and the OpenAI-compatible
// endpoints of Gemini and Anthropic share the same wire format. A single
// Provider handles request encoding (functions, tools, response_format,
// stream_options), SSE parsing, error mapping and optional client-side rate
// limiting; presets only differ in name, base URL and endpoint path.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "openai",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.openai.com",
//	    DefaultModel: "gpt-4o-mini",
//	}, logger)
package openaicompat
