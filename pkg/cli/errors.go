package cli

import (
	"context"
	"errors"

	"github.com/telekom/mcauth/pkg/autherr"
)

// FormatError renders err for the terminal: the actionable message for
// sign-in failures, followed by the technical detail.
func FormatError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	case autherr.KindOf(err) == autherr.KindUnknown:
		return err.Error()
	default:
		return autherr.UserMessage(err) + " (" + err.Error() + ")"
	}
}
