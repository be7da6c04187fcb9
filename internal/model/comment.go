package model

// Comment is one entry of a topic's comment list.
// ID is generated locally on every decode and is never persisted.
type Comment struct {
	ID        string `json:"-"`
	Author    string `json:"name"`
	Body      string `json:"message"`
	CreatedAt string `json:"date"`
}

// Matches reports structural equality, ignoring the local ID.
func (c Comment) Matches(o Comment) bool {
	return c.Author == o.Author && c.Body == o.Body && c.CreatedAt == o.CreatedAt
}

// CommentList is an ordered list of comments, newest first.
type CommentList []Comment
