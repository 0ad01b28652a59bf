package entity

import "time"

const (
	FlushStatusNew            int16 = 0
	FlushStatusProcessing     int16 = 1
	FlushStatusSuccess        int16 = 10
	FlushStatusPartialFailure int16 = 40
	FlushStatusFailure        int16 = 50
)

type FlushHistory struct {
	RequestID string
	Reason    string
	Status    int16
	Files     int
	Delivered int
	Failed    int
	Deferred  int
	Removed   int
	CreatedAt time.Time
}
