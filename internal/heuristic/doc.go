// Package heuristic scores platform candidates from a file's name, extension
// and folder structure using catalog weights.
package heuristic
