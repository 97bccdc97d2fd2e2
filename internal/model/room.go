package model

// RoomFile describes a file in a room directory.
type RoomFile struct {
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	Created  string `json:"created"`
}

// RoomFileList is the response of the room file listing.
type RoomFileList struct {
	List []RoomFile `json:"list"`
}

// FilePathInfo points at a file inside a room directory.
type FilePathInfo struct {
	Folder   string `json:"folder"`
	Filename string `json:"filename"`
	Filepath string `json:"filepath"`
}

// Probe status values
const (
	ProbeStatusOK    = "OK"
	ProbeStatusError = "ERROR"
)

// FileInfoRequest is the validated path of a file info lookup.
type FileInfoRequest struct {
	Room     string `validate:"required,max=128,excludesall=/\\,ne=.,ne=.."`
	Filename string `validate:"omitempty,max=255,excludesall=/\\,ne=.,ne=.."`
}

// FileInfoResponse mirrors the probe endpoint payload.
type FileInfoResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
}

// FileDuration is the OK payload of FileInfoResponse.
type FileDuration struct {
	Filename string  `json:"filename"`
	Duration float64 `json:"duration"`
}

// FileInfoError is the ERROR payload of FileInfoResponse.
type FileInfoError struct {
	Message string `json:"message"`
}
