// Package client provides the provider-agnostic plumbing for running a
// coding-assistant CLI as a child process.
//
// Key types:
//   - Provider: builds the command line for one CLI (claude, codex, gemini, amp)
//   - Normalizer: maps one decoded output line to a canonical SessionEvent
//   - SpawnBuilder: starts the process with piped stdout/stderr
//   - Process: the running handle (signal, kill, wait)
//
// Providers register themselves from their package init:
//
//	func init() {
//	    client.RegisterProvider(client.ClientCodex, func(cfg client.ProviderConfig) client.Provider {
//	        return New(cfg)
//	    })
//	}
//
// and callers resolve them by type:
//
//	p, err := client.NewProvider(client.ClientCodex, cfg)
//	proc, err := client.NewSpawnBuilder(ctx).
//	    WithExecutable(p.Executable(), p.Args(inv)).
//	    WithWorkDir(dir).
//	    Build()
package client
