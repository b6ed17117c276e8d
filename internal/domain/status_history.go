package domain

// StatusHistory is an append-only audit entry for one status transition.
type StatusHistory struct {
	ID          int64       `db:"id"`
	DoubtID     int64       `db:"doubt_id"`
	ActorID     *int64      `db:"actor_id"`
	OldStatus   DoubtStatus `db:"old_status"`
	NewStatus   DoubtStatus `db:"new_status"`
	Note        string      `db:"note"`
	TimeCreated int64       `db:"time_created"`
}
