// Package redact removes secrets from source text before it is sent to any
// LLM provider.
//
// Detection uses regex heuristics covering common secret shapes: API keys,
// JWTs, private keys, AWS keys, bearer tokens, connection strings with
// embedded passwords, provider-specific tokens (Anthropic, OpenAI, GitHub,
// Slack), and PHP idioms such as 'password' => '...' array entries and
// define('DB_PASSWORD', '...').
//
// Files whose paths match configured glob patterns (for example .env files)
// have their entire content replaced rather than being scanned.
package redact
