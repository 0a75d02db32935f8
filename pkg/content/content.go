// Package content maps MIME types to coarse content categories.
package content

import "strings"

// Category is a coarse content category.
type Category string

const (
	Image        Category = "image"
	Video        Category = "video"
	Document     Category = "document"
	Presentation Category = "presentation"
	Spreadsheet  Category = "spreadsheet"
	File         Category = "file"
	Unknown      Category = "unknown"
)

// FolderMimeType is the MIME type Google Drive reports for folders.
const FolderMimeType = "application/vnd.google-apps.folder"

// Classify returns the category for mimeType. Rules are checked in order and
// the first match wins.
func Classify(mimeType string) Category {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(m, "image/"):
		return Image
	case strings.HasPrefix(m, "video/"):
		return Video
	case strings.Contains(m, "pdf"):
		return Document
	case strings.Contains(m, "presentation"):
		return Presentation
	case strings.Contains(m, "spreadsheet"):
		return Spreadsheet
	case strings.Contains(m, "document"):
		return Document
	default:
		return File
	}
}

// ClassifyForStats is Classify, except that an empty MIME type is Unknown.
func ClassifyForStats(mimeType string) Category {
	if strings.TrimSpace(mimeType) == "" {
		return Unknown
	}
	return Classify(mimeType)
}

// IsFolderMime reports whether mimeType is the Drive folder type.
func IsFolderMime(mimeType string) bool {
	return mimeType == FolderMimeType
}
