package types

// Notebook is the container a Store's queries and subscriptions are
// implicitly scoped to. It is not part of the distilled specification, but
// query(selector)/subscribe(query, ...) both need a notebook id to select
// against, and the reference JSON store keys its on-disk layout by it the
// same way storage.Storage keys paths by a path slice.
type Notebook struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"createdAt"`
}
