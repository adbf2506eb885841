package models

import (
	"time"
)

type DirectoryEntry struct {
	Handle   string    `json:"handle" gorm:"primaryKey;type:text"`
	Identity string    `json:"identity" gorm:"type:text;not null;uniqueIndex:uniq_directory_identity"`
	CDate    time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate    time.Time `json:"mdate" gorm:"type:timestamp with time zone;not null;default:clock_timestamp()"`
}
