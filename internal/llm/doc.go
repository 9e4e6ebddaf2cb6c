// Package llm contains adapters and orchestration glue for invoking large
// language models. It abstracts away provider-specific APIs and normalizes the
// structured-call / free-text union that the agent runtime consumes.
package llm
