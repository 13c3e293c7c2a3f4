// Package llm groups the core.Generator implementations.
//
//   - claude: Anthropic Messages API with server-sent event streaming
//   - ollama: a local Ollama server's /api/generate endpoint
//   - mock: scripted replies for tests and offline runs
package llm
