// Package main hosts the romid CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once, opens the
// identification engine on demand, and renders results as tables or JSON.
// Identification, indexing and cache logic live in the internal packages;
// commands here only parse flags and present what the engine returns.
package main
