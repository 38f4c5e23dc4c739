package treemap

import (
	"context"
	"errors"
	"fmt"
)

// Clipboard writes text to the system clipboard. Writes may fail.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// Notifier shows a transient message.
type Notifier interface {
	Show(msg string)
}

// ClipboardError is returned when a copy was rejected.
type ClipboardError struct {
	Label string
	Err   error
}

func (e *ClipboardError) Error() string {
	return fmt.Sprintf("copy %s: %v", e.Label, e.Err)
}

func (e *ClipboardError) Unwrap() error { return e.Err }

// ClickHandler copies the clicked cell's label.
type ClickHandler struct {
	Clipboard Clipboard
	Notices   Notifier
}

// Click writes label to the clipboard once and shows a notice either way.
// A failing or panicking clipboard is reported as a *ClipboardError.
func (h *ClickHandler) Click(ctx context.Context, label string) (err error) {
	if label == "" {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = &ClipboardError{Label: label, Err: fmt.Errorf("panic: %v", p)}
		}
		if err != nil {
			h.show(fmt.Sprintf("Copy failed, copy %s manually", label))
			return
		}
		h.show(fmt.Sprintf("Copied %s", label))
	}()

	if h.Clipboard == nil {
		return &ClipboardError{Label: label, Err: errors.New("clipboard unavailable")}
	}
	if werr := h.Clipboard.WriteText(ctx, label); werr != nil {
		return &ClipboardError{Label: label, Err: werr}
	}
	return nil
}

func (h *ClickHandler) show(msg string) {
	if h.Notices != nil {
		h.Notices.Show(msg)
	}
}
