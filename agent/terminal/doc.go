// Package terminal implements the command-line interaction mode for egoist.
//
// A Terminal is an agent.InputSource: it prompts with "> ", reads one line at
// a time and hands non-empty lines to the agent. Some lines are handled
// locally instead:
//
//   - "list tools" prints every active tool with its description
//   - /quit and /exit end the session, as does end of input
//
// Tool results are printed as they are appended, indented when they are JSON.
//
// # Usage
//
//	term := terminal.New(os.Stdin, os.Stdout, registry)
//	a := agent.New(client, registry, history, term.Callbacks(agent.Callbacks{
//	    OnMessageAppended: saveTranscript,
//	}))
//	err := a.Run(ctx, term)
package terminal
