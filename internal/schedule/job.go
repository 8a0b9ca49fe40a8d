package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Job is a scheduled segment-end transition. Its queue identity is
// "timer:{roomID}:{expectedIndex}", so re-scheduling the same transition
// replaces the old entry and cancellation is a targeted delete.
type Job struct {
	RoomID        uuid.UUID
	ExpectedIndex int
}

func (j Job) Member() string {
	return fmt.Sprintf("timer:%s:%d", j.RoomID, j.ExpectedIndex)
}

// ParseJob decodes a queue member back into a Job.
func ParseJob(member string) (Job, error) {
	parts := strings.Split(member, ":")
	if len(parts) != 3 || parts[0] != "timer" {
		return Job{}, fmt.Errorf("malformed job member %q", member)
	}

	roomID, err := uuid.Parse(parts[1])
	if err != nil {
		return Job{}, fmt.Errorf("malformed room id in job member %q: %w", member, err)
	}
	index, err := strconv.Atoi(parts[2])
	if err != nil || index < 0 {
		return Job{}, fmt.Errorf("malformed index in job member %q", member)
	}

	return Job{RoomID: roomID, ExpectedIndex: index}, nil
}
