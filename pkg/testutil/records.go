package testutil

import "time"

// FiredEvent records a fire_event call for testing/verification
type FiredEvent struct {
	Timestamp time.Time
	EventType string
	Data      map[string]interface{}
}

// StateWrite records a REST state write for testing/verification
type StateWrite struct {
	Timestamp  time.Time
	EntityID   string
	State      string
	Attributes map[string]interface{}
}

// FilterFiredEvents filters events by type
func FilterFiredEvents(events []FiredEvent, eventType string) []FiredEvent {
	var filtered []FiredEvent
	for _, event := range events {
		if event.EventType == eventType {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

// FindFiredEventWithData finds the most recent event with a matching data key/value
func FindFiredEventWithData(events []FiredEvent, eventType, dataKey string, dataValue interface{}) *FiredEvent {
	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		if event.EventType == eventType {
			if val, ok := event.Data[dataKey]; ok && val == dataValue {
				return &event
			}
		}
	}
	return nil
}

// FilterStateWrites filters state writes by entity
func FilterStateWrites(writes []StateWrite, entityID string) []StateWrite {
	var filtered []StateWrite
	for _, write := range writes {
		if write.EntityID == entityID {
			filtered = append(filtered, write)
		}
	}
	return filtered
}
