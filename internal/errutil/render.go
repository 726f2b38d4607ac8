package errutil

import (
	"errors"
	"fmt"
	"strings"
)

// Render formats an error and its wrapped causes as an indented trace:
//
//	error: reclaim failed: failed to delete artifact "logs": boom
//	  caused by: failed to delete artifact "logs": boom
//	    caused by: boom
//
// Causes whose message is identical to their parent's are folded.
func Render(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "error: %s\n", err.Error())
	renderCauses(&b, err, 1)
	return b.String()
}

func renderCauses(b *strings.Builder, err error, depth int) {
	for _, cause := range unwrapAll(err) {
		if cause == nil {
			continue
		}
		if cause.Error() != err.Error() {
			fmt.Fprintf(b, "%scaused by: %s\n", strings.Repeat("  ", depth), cause.Error())
			renderCauses(b, cause, depth+1)
			continue
		}
		renderCauses(b, cause, depth)
	}
}

func unwrapAll(err error) []error {
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		return u.Unwrap()
	default:
		if next := errors.Unwrap(err); next != nil {
			return []error{next}
		}
		return nil
	}
}
