package model

// FragmentType distinguishes the audio and video halves of a recording.
type FragmentType string

const (
	FragmentAudio FragmentType = "audio"
	FragmentVideo FragmentType = "video"
)

// Fragment is one file discovered in a room directory. StartTime is in
// microseconds and comes from the file name.
type Fragment struct {
	Room      string       `json:"folder"`
	User      string       `json:"user"`
	StartTime int64        `json:"time"`
	Filename  string       `json:"filename"`
	Type      FragmentType `json:"type"`
}

// FragmentPair is the audio and video fragment of one user that are mixed
// into a single container.
type FragmentPair struct {
	User string   `json:"user"`
	A    Fragment `json:"fileA"`
	B    Fragment `json:"fileB"`
}

// Video returns the video half of the pair, falling back to B.
func (p FragmentPair) Video() Fragment {
	if p.A.Type == FragmentVideo {
		return p.A
	}
	return p.B
}

// Metadata is what the probe reports for a media file.
type Metadata struct {
	Duration float64 `json:"duration"` // seconds
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

// MediaFile is a derived fragment (mixed or transcoded) with probed metadata.
type MediaFile struct {
	Fragment
	Metadata
}

// EndTime returns the end of the file in microseconds.
func (f MediaFile) EndTime() float64 {
	return float64(f.StartTime) + f.Duration*1e6
}

// UserFileGroup holds the transcoded fragments of one participant.
type UserFileGroup struct {
	User  string      `json:"user"`
	Files []MediaFile `json:"files"`
}

// Track is one participant's continuous media file.
type Track struct {
	MediaFile
	// Timeshift is the gap, lag or shortfall in whole seconds handled by the
	// last alignment step that touched this track.
	Timeshift int `json:"timeshift"`
	// Filler is the filler clip spliced in by that step, if any.
	Filler string `json:"blackScreenFile,omitempty"`
}
