package task

import (
	"encoding/json"
	"maps"
)

const KindNotifyNewAssignments = "notify_new_assignments"

// NotificationTask reports the assignments a visitor received during one request.
// Consumers may see it more than once; reporting the same delta twice is harmless.
type NotificationTask struct {
	DistinctID     string            `json:"mixpanel_distinct_id"`
	VisitorID      string            `json:"visitor_id"`
	NewAssignments map[string]string `json:"new_assignments"`
}

var notificationFields = []string{"mixpanel_distinct_id", "visitor_id", "new_assignments"}

// AssignmentDelta is implemented by anything that tracks assignments made during a request.
type AssignmentDelta interface {
	HasNewAssignments() bool
}

// ShouldNotify reports whether a notification task must be scheduled.
func ShouldNotify(d AssignmentDelta) bool {
	return d.HasNewAssignments()
}

// NewNotificationTask validates and builds a notification task. The delta is copied.
func NewNotificationTask(distinctID, visitorID string, newAssignments map[string]string) (*NotificationTask, error) {
	t := &NotificationTask{
		DistinctID:     distinctID,
		VisitorID:      visitorID,
		NewAssignments: maps.Clone(newAssignments),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// DecodeNotificationTask strictly decodes a notification task payload.
func DecodeNotificationTask(payload json.RawMessage) (*NotificationTask, error) {
	var t NotificationTask
	if err := decodeStrict(KindNotifyNewAssignments, payload, notificationFields, &t); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *NotificationTask) Kind() string { return KindNotifyNewAssignments }

func (t *NotificationTask) Validate() error {
	if err := requireNonEmpty(KindNotifyNewAssignments, "mixpanel_distinct_id", t.DistinctID); err != nil {
		return err
	}
	if err := requireNonEmpty(KindNotifyNewAssignments, "visitor_id", t.VisitorID); err != nil {
		return err
	}
	if len(t.NewAssignments) == 0 {
		return &InvalidTaskError{Kind: KindNotifyNewAssignments, Field: "new_assignments", Reason: "must not be empty"}
	}
	for split, variant := range t.NewAssignments {
		if split == "" || variant == "" {
			return &InvalidTaskError{Kind: KindNotifyNewAssignments, Field: "new_assignments", Reason: "must not contain empty split or variant names"}
		}
	}
	return nil
}
