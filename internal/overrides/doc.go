// Package overrides applies user-authored rules that force a platform before
// any identification step runs. Rules are evaluated in file order and the
// first match wins.
package overrides
