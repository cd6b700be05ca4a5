// Package generation turns conversation history into an assistant reply.
//
// A [Generator] takes the history as [Turn] values, oldest first, and a model
// identifier. Every failure, including an empty reply, is reported as an
// error wrapping [ErrGeneration]; a Generator never returns "" with a nil
// error. Deadlines come from the context.
//
// Backends:
//
//   - [Ollama]: POST /v1/chat/completions against an Ollama server
//   - [Gemini]: Vertex AI or Gemini API through google.golang.org/genai
//   - [Echo]: repeats the last user message, for local runs and tests
package generation
