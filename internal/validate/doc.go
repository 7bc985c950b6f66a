// Package validate holds the structural validators: manifest completeness for
// .cue/.gdi/.m3u sets, bounded header signature matching, and container
// metadata for CHD and WIA/RVZ images. Validators only read; defects are
// reported to the caller and never stored.
package validate
