package store

import "time"

// Conversation is one recorded pairing: who talked, in which languages,
// under which condition, plus the pre/post survey payloads (stored as
// raw JSON text) and the measured length.
type Conversation struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	User1ID         string `gorm:"size:64;not null;index"`
	User2ID         string `gorm:"size:64;not null;index"`
	User1Lang       string `gorm:"size:32;not null"`
	User2Lang       string `gorm:"size:32;not null"`
	Condition       string `gorm:"size:16;not null"`
	Model           string `gorm:"size:64"`
	StarterIndex    int
	User1Presurvey  string `gorm:"type:text"`
	User2Presurvey  string `gorm:"type:text"`
	User1Postsurvey string `gorm:"type:text"`
	User2Postsurvey string `gorm:"type:text"`
	DurationSeconds int
	CreatedAt       time.Time
}

// Turn is one relayed message of a conversation's history. Entries are
// immutable once written.
type Turn struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	ConversationID int64  `gorm:"not null;index"`
	Sender         string `gorm:"size:64;not null"`
	Text           string `gorm:"type:text"`
	Translation    string `gorm:"type:text"`
	DetectedLang   string `gorm:"size:16"`
	CreatedAt      time.Time
}
