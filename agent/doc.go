// Package agent drives the conversation loop of egoist.
//
// An Agent owns the message history. Each model turn requests a message with
// tool schemas enabled; if the reply carries tool calls they are dispatched
// concurrently through the tool registry, every result is appended as a tool
// message, and a follow-up message is requested with tools disabled so the
// model answers in plain text. The agent then waits on its InputSource for
// the next user message.
//
//	StateAwaitingModelTurn
//	  -> StateToolCallsPending | StatePlainReply
//	  -> StateAwaitingExternalInput
//	  -> StateAwaitingModelTurn ...
//
// Run loops until the input source returns io.EOF. RunOnce performs a single
// turn and returns the final text.
//
// # Callbacks
//
// Callbacks decouple presentation and persistence from the loop:
// OnMessageAppended fires after every appended message (the CLI saves the
// transcript there), OnToolResult fires per tool result, and OnError receives
// failed model turns so an interactive loop can continue.
//
// # Subpackages
//
// agent/terminal: an InputSource reading lines from a terminal, with the
// "list tools", /quit and /exit commands, plus helpers printing tool results.
package agent
