package models

// UploadClass is the kind of file an endpoint accepts.
type UploadClass string

const (
	ClassMedia      UploadClass = "media"
	ClassTranscript UploadClass = "transcript"
)

// UploadedFile is a request-scoped copy of a multipart upload on local disk.
// Path lives inside Dir, which is removed as a whole once the request is done.
type UploadedFile struct {
	Name      string      `json:"name"`
	MediaType string      `json:"media_type"`
	Class     UploadClass `json:"class"`
	Dir       string      `json:"-"`
	Path      string      `json:"-"`
	Size      int64       `json:"size"`
}
