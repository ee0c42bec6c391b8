// Copyright 2024 by Oliver Sauer
// Use of this source code is governed by a MIT-style license that can be found in the LICENSE file.

package mediadrop

import (
	"path/filepath"
	"strings"
)

// MediaKind classifies a listed media file.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

const (
	contentTypeHTML    = "text/html; charset=utf-8"
	contentTypeJSON    = "application/json; charset=utf-8"
	contentTypeText    = "text/plain; charset=utf-8"
	contentTypeDefault = "application/octet-stream"
)

// mediaKinds is the listing allow-list, keyed by lower-case extension without the dot.
var mediaKinds = map[string]MediaKind{
	"mp3": KindAudio,
	"mp4": KindVideo,
}

// contentTypes maps lower-case extensions (with dot) to the Content-Type served for them.
var contentTypes = map[string]string{
	".html":        contentTypeHTML,
	".js":          "application/javascript; charset=utf-8",
	".css":         "text/css; charset=utf-8",
	".json":        contentTypeJSON,
	".png":         "image/png",
	".jpg":         "image/jpeg",
	".jpeg":        "image/jpeg",
	".svg":         "image/svg+xml",
	".mp4":         "video/mp4",
	".mp3":         "audio/mpeg",
	".webmanifest": "application/manifest+json",
}

// ContentTypeFor returns the Content-Type for the file name, falling back to
// application/octet-stream for unknown extensions.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return contentTypeDefault
}

// mediaKindFor reports the kind and normalized extension of a listable media file.
func mediaKindFor(name string) (ext string, kind MediaKind, ok bool) {
	ext = strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	kind, ok = mediaKinds[ext]
	return ext, kind, ok
}
