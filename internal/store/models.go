package store

import "time"

type User struct {
	ID        int64
	Name      string
	Email     string
	Role      string
	AvatarURL string
}

type Project struct {
	ID           int64
	Title        string
	ClientID     int64
	FreelancerID *int64
}

type Thread struct {
	ID                 int64
	ProjectID          *int64
	Type               string
	Subject            string
	ParticipantSetHash string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Participant struct {
	ThreadID          int64
	UserID            int64
	LastReadTimestamp *time.Time
	JoinedAt          time.Time
}

type Message struct {
	ID        int64
	ThreadID  int64
	SenderID  int64
	Text      string
	FileID    *int64
	Status    string
	CreatedAt time.Time
}
