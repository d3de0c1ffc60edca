package models

import "time"

// SubtitleDescriptor describes the best subtitle found for one language.
// At most one descriptor per language code is returned per request.
type SubtitleDescriptor struct {
	ID           string `json:"id"`
	LangCode     string `json:"langcode"` // ISO 639-2
	Language     string `json:"language"` // human readable name
	Rank         int    `json:"rank"`
	BlobID       string `json:"blobId,omitempty"` // content handle into the subtitle cache
	DownloadLink string `json:"downloadLink"`
}

// SubtitleBlob holds converted WebVTT bytes. The body always begins with the
// literal WEBVTT header and contains at least one well-formed cue.
type SubtitleBlob struct {
	Body        []byte    `json:"-"`
	GeneratedAt time.Time `json:"generatedAt"`
}
