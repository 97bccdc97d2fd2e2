// Package fragment reads room directories written by the capture agent and
// classifies their files by naming convention.
//
// Raw fragment names look like
//
//	videoroom-<room>-user-<user>-<startµs>-<audio|video>.<ext>
//
// and every derived artifact keeps the raw name behind a reserved prefix
// (mixed-, converted-, final, aligned, black-), so user and start time can be
// recovered at every stage.
package fragment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smpb05/janus-gateway/internal/model"
)

// ErrRoomNotFound is returned when the room directory does not exist.
var ErrRoomNotFound = errors.New("room not found")

// Kind selects a class of files in a room directory.
type Kind int

const (
	// KindOriginal selects unconverted capture fragments.
	KindOriginal Kind = iota
	// KindMixed selects audio+video mixes.
	KindMixed
	// KindConverted selects scaled fragments ready for concatenation.
	KindConverted
	// KindDeletable selects intermediate files removed by cleanup.
	KindDeletable
)

func (k Kind) String() string {
	switch k {
	case KindOriginal:
		return "original"
	case KindMixed:
		return "mixed"
	case KindConverted:
		return "converted"
	case KindDeletable:
		return "deletable"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Reserved name parts.
const (
	rawPrefix       = "videoroom"
	recordingSuffix = ".mjr"
	MixedPrefix     = "mixed-"
	ConvertedPrefix = "converted-"
	FinalPrefix     = "final"
	AlignedPrefix   = "aligned"
	FillerPrefix    = "black"
	ManifestPrefix  = "videos"
	ArtifactExt     = ".mkv"
	// PartPrefix marks an output that ffmpeg has not finished writing.
	PartPrefix      = ".part-"
)

var deletablePrefixes = []string{
	ConvertedPrefix + MixedPrefix,
	AlignedPrefix,
	FillerPrefix,
	FinalPrefix,
	ManifestPrefix,
	MixedPrefix,
	PartPrefix,
}

var deletableSuffixes = []string{".opus", ".webm"}

// Store gives access to the room directories under a base directory.
type Store struct {
	baseDir string
}

// NewStore creates a store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// BaseDir returns the directory holding all rooms.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// RoomDir returns the directory of a room.
func (s *Store) RoomDir(room string) string {
	return filepath.Join(s.baseDir, room)
}

// Path returns the absolute path of a file in a room.
func (s *Store) Path(room, name string) string {
	return filepath.Join(s.baseDir, room, name)
}

// RoomExists reports whether the room directory is present.
func (s *Store) RoomExists(room string) (bool, error) {
	info, err := os.Stat(s.RoomDir(room))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *Store) readRoom(room string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(s.RoomDir(room))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, room)
		}
		return nil, fmt.Errorf("read room %s: %w", room, err)
	}
	return entries, nil
}

// List returns the fragments of the given kind sorted by start time. For
// KindDeletable, names that do not carry fragment tokens are still returned
// with only Room and Filename set.
func (s *Store) List(room string, kind Kind) ([]model.Fragment, error) {
	entries, err := s.readRoom(room)
	if err != nil {
		return nil, err
	}

	var files []model.Fragment
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !Matches(kind, room, name) {
			continue
		}
		frag, err := Parse(room, name)
		if err != nil {
			if kind != KindDeletable {
				continue
			}
			frag = model.Fragment{Room: room, Filename: name}
		}
		files = append(files, frag)
	}

	SortByTime(files)
	return files, nil
}

// Matches reports whether name belongs to kind in the given room.
func Matches(kind Kind, room, name string) bool {
	switch kind {
	case KindOriginal:
		return strings.HasPrefix(name, rawPrefix) && !strings.HasSuffix(name, recordingSuffix)
	case KindMixed:
		return strings.HasPrefix(name, MixedPrefix)
	case KindConverted:
		return strings.HasPrefix(name, ConvertedPrefix+MixedPrefix)
	case KindDeletable:
		if name == ArtifactName(room) {
			return false
		}
		for _, prefix := range deletablePrefixes {
			if strings.HasPrefix(name, prefix) {
				return true
			}
		}
		for _, suffix := range deletableSuffixes {
			if strings.HasSuffix(name, suffix) {
				return true
			}
		}
	}
	return false
}

// Parse extracts user, start time and type from a raw or derived file name.
func Parse(room, name string) (model.Fragment, error) {
	raw := stripReserved(name)
	tokens := strings.Split(raw, "-")
	if len(tokens) < 6 || tokens[0] != rawPrefix {
		return model.Fragment{}, fmt.Errorf("parse fragment name %q: unexpected layout", name)
	}

	start, err := strconv.ParseInt(tokens[4], 10, 64)
	if err != nil {
		return model.Fragment{}, fmt.Errorf("parse fragment name %q: start time: %w", name, err)
	}

	kind := tokens[5]
	if i := strings.IndexByte(kind, '.'); i >= 0 {
		kind = kind[:i]
	}

	return model.Fragment{
		Room:      room,
		User:      tokens[3],
		StartTime: start,
		Filename:  name,
		Type:      model.FragmentType(kind),
	}, nil
}

// stripReserved removes derived-artifact prefixes until the raw name is left.
func stripReserved(name string) string {
	for {
		switch {
		case strings.HasPrefix(name, ConvertedPrefix):
			name = strings.TrimPrefix(name, ConvertedPrefix)
		case strings.HasPrefix(name, MixedPrefix):
			name = strings.TrimPrefix(name, MixedPrefix)
		case strings.HasPrefix(name, AlignedPrefix):
			name = strings.TrimPrefix(name, AlignedPrefix)
		case strings.HasPrefix(name, FinalPrefix):
			name = strings.TrimPrefix(name, FinalPrefix)
		default:
			return name
		}
	}
}

// SortByTime orders fragments by start time, then user, then type, so audio
// sorts before video of the same moment.
func SortByTime(files []model.Fragment) {
	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.User != b.User {
			return a.User < b.User
		}
		return a.Type < b.Type
	})
}

// PairForMixing joins time-adjacent fragments of the same user with
// different types. A fragment consumed by a pair is not reused; fragments
// that have no such neighbour are returned as unpaired.
func PairForMixing(files []model.Fragment) (pairs []model.FragmentPair, unpaired []model.Fragment) {
	for i := 0; i < len(files); i++ {
		if i+1 < len(files) {
			cur, next := files[i], files[i+1]
			if cur.User == next.User && cur.Type != next.Type {
				pairs = append(pairs, model.FragmentPair{User: cur.User, A: cur, B: next})
				i++
				continue
			}
		}
		unpaired = append(unpaired, files[i])
	}
	return pairs, unpaired
}

// GroupByUser collects media files per user, keeping first-seen user order
// and time order inside each group.
func GroupByUser(files []model.MediaFile) []model.UserFileGroup {
	index := make(map[string]int)
	var groups []model.UserFileGroup
	for _, f := range files {
		i, ok := index[f.User]
		if !ok {
			i = len(groups)
			index[f.User] = i
			groups = append(groups, model.UserFileGroup{User: f.User})
		}
		groups[i].Files = append(groups[i].Files, f)
	}
	for i := range groups {
		sort.SliceStable(groups[i].Files, func(a, b int) bool {
			return groups[i].Files[a].StartTime < groups[i].Files[b].StartTime
		})
	}
	return groups
}

// ArtifactName is the file name of the final composite of a room.
func ArtifactName(room string) string {
	return room + ArtifactExt
}

// HasArtifact reports whether the final composite already exists.
func (s *Store) HasArtifact(room string) (bool, error) {
	if _, err := s.readRoom(room); err != nil {
		return false, err
	}
	info, err := os.Stat(s.Path(room, ArtifactName(room)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// ProcessedFiles lists the final composite of a room, if present.
func (s *Store) ProcessedFiles(room string) ([]model.FilePathInfo, error) {
	ok, err := s.HasArtifact(room)
	if err != nil {
		return nil, err
	}
	files := []model.FilePathInfo{}
	if ok {
		name := ArtifactName(room)
		files = append(files, model.FilePathInfo{Folder: room, Filename: name, Filepath: s.Path(room, name)})
	}
	return files, nil
}

// DeletionCandidates lists the intermediate files of a room.
func (s *Store) DeletionCandidates(room string) ([]model.FilePathInfo, error) {
	files, err := s.List(room, KindDeletable)
	if err != nil {
		return nil, err
	}
	out := make([]model.FilePathInfo, 0, len(files))
	for _, f := range files {
		out = append(out, model.FilePathInfo{Folder: room, Filename: f.Filename, Filepath: s.Path(room, f.Filename)})
	}
	return out, nil
}

// RoomFiles describes every file of a room.
func (s *Store) RoomFiles(room string) (*model.RoomFileList, error) {
	entries, err := s.readRoom(room)
	if err != nil {
		return nil, err
	}
	list := make([]model.RoomFile, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		list = append(list, model.RoomFile{
			FileName: entry.Name(),
			Size:     info.Size(),
			Created:  info.ModTime().Format(time.DateTime),
		})
	}
	return &model.RoomFileList{List: list}, nil
}

// Remove deletes a file of a room.
func (s *Store) Remove(room, name string) error {
	return os.Remove(s.Path(room, name))
}

// MixedName is the output name of mixing a pair.
func MixedName(pair model.FragmentPair) string {
	return MixedPrefix + pair.Video().Filename
}

// ConvertedName is the output name of transcoding a mixed file.
func ConvertedName(mixedName string) string {
	return ConvertedPrefix + mixedName + ArtifactExt
}

// FinalName is the output name of concatenating a user's track.
func FinalName(name string) string {
	return FinalPrefix + name
}

// AlignedName is the output name of end-aligning a track.
func AlignedName(name string) string {
	return AlignedPrefix + name
}

// FillerName is the output name of a filler clip for the given step.
func FillerName(step string, seconds int, name string) string {
	return fmt.Sprintf("%s-%s-t%d-%s", FillerPrefix, step, seconds, name)
}

// ManifestName is the name of a concat manifest for the given step.
func ManifestName(step, name string) string {
	return fmt.Sprintf("%s-%s-%s.txt", ManifestPrefix, step, name)
}
