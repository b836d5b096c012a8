// Package executor provides the stage execution capability.
//
// A Registry maps a stage's executor_ref to a function that turns the
// previous stage's records into this stage's records. The builtin templates
// are registered by NewRegistry; the LLM template is added when an API key
// is configured.
//
// Builtin templates:
//   - builtin.identity: passes records through
//   - builtin.uppercase: upper-cases strings, or params.field of objects
//   - builtin.sleep: waits params.seconds (default 0.1) then passes through
//   - builtin.filter_null: drops null records
//   - builtin.fail: always fails with params.message
//   - builtin.llm_prompt: sends each record to the Anthropic Messages API
package executor
