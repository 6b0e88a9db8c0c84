// Package providers implements the Completer interface for each supported
// LLM backend.
//
// Supported providers: Anthropic (Claude, through the official SDK), OpenAI,
// Google Gemini (through the genai SDK), and Ollama / LM Studio for local
// models through their OpenAI-compatible endpoint.
//
// All providers share a retry helper with exponential back-off for rate
// limits and transient server errors. [Limit] wraps any Completer with a
// token-bucket rate limiter so that many concurrent review sessions stay
// within a provider's request budget.
//
// Use [New] to obtain a Completer by provider name and model string.
package providers
