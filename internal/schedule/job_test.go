package schedule

import (
	"testing"

	"github.com/google/uuid"
)

func TestJobMemberRoundTrip(t *testing.T) {
	job := Job{RoomID: uuid.New(), ExpectedIndex: 3}

	parsed, err := ParseJob(job.Member())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != job {
		t.Fatalf("round trip mismatch: %+v != %+v", parsed, job)
	}
}

func TestParseJobRejectsMalformedMembers(t *testing.T) {
	malformed := []string{
		"",
		"timer",
		"timer:not-a-uuid:0",
		"timer:" + uuid.New().String() + ":x",
		"timer:" + uuid.New().String() + ":-1",
		"other:" + uuid.New().String() + ":0",
		"timer:" + uuid.New().String(),
	}
	for _, member := range malformed {
		if _, err := ParseJob(member); err == nil {
			t.Fatalf("expected parse error for %q", member)
		}
	}
}
