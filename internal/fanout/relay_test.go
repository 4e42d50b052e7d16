package fanout

import "testing"

func TestRoomSubjectRoundTrip(t *testing.T) {
	subject := roomSubject(42)
	if subject != "chat.room.42" {
		t.Fatalf("unexpected subject %q", subject)
	}
	if got := chatIDFromSubject(subject); got != 42 {
		t.Fatalf("expected chat id 42, got %d", got)
	}
}

func TestChatIDFromSubjectRejectsForeignSubjects(t *testing.T) {
	if got := chatIDFromSubject("chat.room.abc"); got != 0 {
		t.Fatalf("expected 0 for non-numeric subject, got %d", got)
	}
}
