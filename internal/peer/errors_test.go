package peer

import (
	"errors"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := WrapError("join room", ErrRoomFailed, "room-not-found")
	if got, want := err.Error(), "join room: room request rejected (room-not-found)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrRoomFailed) {
		t.Error("wrapped error does not match ErrRoomFailed")
	}

	plain := NewError("send", ErrClosed)
	if got, want := plain.Error(), "send: client closed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	var pe *Error
	if !errors.As(error(plain), &pe) || pe.Op != "send" {
		t.Errorf("errors.As failed: %+v", pe)
	}
}
