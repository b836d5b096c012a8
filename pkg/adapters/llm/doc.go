// Package llm completes prompts for the builtin.llm_prompt stage executor.
//
// NewClient picks an implementation by provider name. Only "anthropic" is
// available; requests go through the Messages API with a bounded number in
// flight.
package llm
