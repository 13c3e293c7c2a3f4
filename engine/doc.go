// Package engine runs a chat turn: it stores the user message, evicts
// short-term memory into a summary when it grows too large, retrieves
// long-term memory and document chunks, fits a prompt to the token budget
// and streams the generated reply back to the caller before storing it.
//
// Basic usage:
//
//	eng := engine.NewEngine(store, index, embedder, generator, assembler,
//		engine.WithLogger(logger),
//	)
//	out, err := eng.Run(ctx, &engine.Input{
//		SessionID:   sessionID,
//		UserMessage: "what does the contract say about renewals?",
//		StreamCallback: func(chunk string, done bool) {
//			// forward to the client
//		},
//	})
package engine
