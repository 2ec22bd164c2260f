package models

import "time"

// LiveClass stores the status of a class that is currently broadcasting
type LiveClass struct {
	ClassID   string    `json:"classId"`
	Channel   string    `json:"channel"`   // signaling channel, "live-<classId>"
	TeacherID string    `json:"teacherId"` // user ID from JWT who started the broadcast
	StartedAt time.Time `json:"startedAt"`
}

// Lecture is a packaged lesson stored for a class
type Lecture struct {
	ID             int64     `json:"id"`
	ClassID        string    `json:"classId"`
	StoragePath    string    `json:"storagePath"`
	Subject        string    `json:"subject"`
	Teacher        string    `json:"teacher"`
	IsLiveRecorded bool      `json:"isLiveRecorded"`
	CreatedAt      time.Time `json:"createdAt"`
}

// StartLiveResponse is the response for starting a live broadcast
type StartLiveResponse struct {
	Channel string `json:"channel"`
}
