// Package acp serves the agent over the Agent Client Protocol so editors can
// drive it. Requests are newline-delimited JSON-RPC 2.0 on stdio.
//
// Supported methods: initialize, session/new, session/load and
// session/prompt. Progress is reported with session/update notifications
// carrying agent_message_chunk, tool_call and tool_result updates.
package acp
