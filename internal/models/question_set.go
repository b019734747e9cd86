package models

// QuestionSet is the read-only view of a parent question set.
type QuestionSet struct {
	ID        int64  `db:"id" json:"id"`
	Title     string `db:"title" json:"title"`
	CreatedBy int64  `db:"created_by" json:"createdBy"`
	IsDeleted bool   `db:"is_deleted" json:"isDeleted"`
}
