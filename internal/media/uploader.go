package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"roomrelay/backend/internal/log"
	"roomrelay/backend/internal/models"
)

var (
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmpty           = errors.New("empty file")
)

// DefaultMaxSize is the upload limit when none is configured.
const DefaultMaxSize = 50 << 20

// sniffLen is how much of the file mimetype inspects.
const sniffLen = 3072

// allowedType is one accepted content type. ext is the extension objects of
// that type are stored under; the client's file name never picks it.
type allowedType struct {
	kind models.MessageType
	ext  string
}

var allowedTypes = map[string]allowedType{
	"image/jpeg":      {models.MessageImage, ".jpg"},
	"image/png":       {models.MessageImage, ".png"},
	"image/gif":       {models.MessageImage, ".gif"},
	"image/webp":      {models.MessageImage, ".webp"},
	"audio/mpeg":      {models.MessageAudio, ".mp3"},
	"audio/mp3":       {models.MessageAudio, ".mp3"},
	"audio/wav":       {models.MessageAudio, ".wav"},
	"audio/x-wav":     {models.MessageAudio, ".wav"},
	"audio/ogg":       {models.MessageAudio, ".ogg"},
	"audio/webm":      {models.MessageAudio, ".webm"},
	"audio/mp4":       {models.MessageAudio, ".m4a"},
	"audio/x-m4a":     {models.MessageAudio, ".m4a"},
	"video/mp4":       {models.MessageVideo, ".mp4"},
	"video/webm":      {models.MessageVideo, ".webm"},
	"video/ogg":       {models.MessageVideo, ".ogv"},
	"video/quicktime": {models.MessageVideo, ".mov"},
}

// Containers that hold either audio or video; browsers label them by intent
// while sniffing only sees the container.
var avContainers = map[string]bool{
	".webm": true,
	".ogg":  true,
	".oga":  true,
	".ogv":  true,
	".mp4":  true,
	".m4a":  true,
	".mov":  true,
}

// File describes a stored upload in the shape chat messages carry.
type File struct {
	URL         string             `json:"fileUrl"`
	Name        string             `json:"fileName"`
	Size        int64              `json:"fileSize"`
	MimeType    string             `json:"fileMimeType"`
	MessageType models.MessageType `json:"messageType"`
}

// Uploader validates uploads and hands them to a BlobStore.
type Uploader struct {
	store   BlobStore
	maxSize int64
}

func NewUploader(store BlobStore, maxSize int64) *Uploader {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Uploader{store: store, maxSize: maxSize}
}

// MaxSize returns the largest accepted upload in bytes.
func (u *Uploader) MaxSize() int64 { return u.maxSize }

// Save checks size, declared type and content, then stores r under the room.
// Nothing is written when validation fails.
func (u *Uploader) Save(ctx context.Context, roomID, name, declared string, size int64, r io.ReadSeeker) (*File, error) {
	if size <= 0 {
		return nil, ErrEmpty
	}
	if size > u.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, size, u.maxSize)
	}

	contentType, allowed, err := checkDeclared(declared)
	if err != nil {
		return nil, err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	detected := mimetype.Detect(head[:n])
	if !sameFamily(contentType, detected) {
		return nil, fmt.Errorf("%w: declared %s, content is %s", ErrUnsupportedType, contentType, detected.String())
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind upload: %w", err)
	}

	name = filepath.Base(name)
	key := roomID + "/" + uuid.NewString() + allowed.ext

	if err := u.store.Put(ctx, key, r, size, contentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	url, err := u.store.URL(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve upload url: %w", err)
	}

	log.Ctx(ctx).Info().
		Str(log.FieldRoomID, roomID).
		Str("key", key).
		Int64("size", size).
		Str("mime", contentType).
		Msg("file uploaded")

	return &File{
		URL:         url,
		Name:        name,
		Size:        size,
		MimeType:    contentType,
		MessageType: allowed.kind,
	}, nil
}

// checkDeclared normalizes the client's content type and looks it up in the
// allowlist.
func checkDeclared(declared string) (string, allowedType, error) {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", allowedType{}, fmt.Errorf("%w: %q", ErrUnsupportedType, declared)
	}
	allowed, ok := allowedTypes[mt]
	if !ok {
		return "", allowedType{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mt)
	}
	return mt, allowed, nil
}

func family(mt string) string {
	top, _, _ := strings.Cut(mt, "/")
	return top
}

func sameFamily(declared string, detected *mimetype.MIME) bool {
	if detected.Is(declared) {
		return true
	}
	df, sf := family(declared), family(detected.String())
	if df == sf {
		return true
	}
	av := (df == "audio" || df == "video") && (sf == "audio" || sf == "video")
	return av && avContainers[detected.Extension()]
}
