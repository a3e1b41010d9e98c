package memloc

import (
	"fmt"
	"io"

	"github.com/s-hammon/memloc/internal/sig"
	"github.com/s-hammon/memloc/internal/value"
	"github.com/s-hammon/p"
)

// Update is one watch tick. Online is false when the query could not be
// resolved or read this tick; Error says why.
type Update struct {
	Online  bool
	Address sig.Address
	Value   value.Value
	Error   string
}

func (u Update) String() string {
	if !u.Online {
		return "offline: " + u.Error
	}

	return p.Format("%s = %s", u.Address, u.Value)
}

// PrintUpdates writes one line per update until the channel closes.
// Offline ticks go to errw so stdout only carries values.
func PrintUpdates(updates <-chan Update, w, errw io.Writer) error {
	for u := range updates {
		out := w
		if !u.Online {
			out = errw
		}

		if _, err := fmt.Fprintln(out, u.String()); err != nil {
			return fmt.Errorf("write update: %v", err)
		}
	}

	return nil
}
