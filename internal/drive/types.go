package drive

// Resource is a file in a Drive folder. Only name, parent and ID are
// tracked; other provider metadata is ignored.
type Resource struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Parent string `json:"parent"`
}

// Action says which branch an upsert took.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Result is the outcome of a successful Upsert.
type Result struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
	Size     int      `json:"size"`
}

// fileEntry is one element of a files.list answer.
type fileEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// listResponse is the files.list answer. Files is a pointer so that a body
// without the key can be told apart from an empty folder.
type listResponse struct {
	Files         *[]fileEntry `json:"files"`
	NextPageToken string       `json:"nextPageToken"`
}

// writeResponse is the answer to a multipart create or update.
type writeResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
