package backend

import "time"

// Book is the backend's book document.
type Book struct {
	ID                string       `json:"id"`
	Title             string       `json:"title"`
	PageCount         int          `json:"pageCount"`
	LastReadPageIndex int          `json:"lastReadPageIndex"`
	TeaserStatus      TeaserStatus `json:"teaserStatus,omitempty"`
}

// TeaserStatus is the generation state of a teaser book.
type TeaserStatus string

const (
	TeaserNone       TeaserStatus = ""
	TeaserGenerating TeaserStatus = "generating"
	TeaserComplete   TeaserStatus = "complete"
	TeaserFailed     TeaserStatus = "failed"
)

// Page is one addressable page of a book. The image may arrive after the text.
type Page struct {
	BookID       string `json:"bookId"`
	Index        int    `json:"index"`
	Text         string `json:"text"`
	ImageURL     string `json:"imageUrl,omitempty"`
	ImageAssetID string `json:"imageAssetId,omitempty"`
}

// HasImage reports whether the page carries an image.
func (p Page) HasImage() bool {
	return p.ImageURL != "" || p.ImageAssetID != ""
}

// UploadResult is the response of an asset upload.
type UploadResult struct {
	AssetID string `json:"assetId"`
}

// ClothesRequest composes a clothing item onto a base image.
type ClothesRequest struct {
	ItemID      string `json:"itemId"`
	Description string `json:"description"`
	ItemAssetID string `json:"itemAssetId"`
	BaseAssetID string `json:"baseAssetId,omitempty"`
}

// AccessoryRequest composes an accessory onto a base image.
type AccessoryRequest struct {
	ItemID      string `json:"itemId"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	ItemAssetID string `json:"itemAssetId"`
	BaseAssetID string `json:"baseAssetId,omitempty"`
}

// CompositeResult is the outcome of a composition call. A false Success
// is a normal outcome, not an error.
type CompositeResult struct {
	Success  bool   `json:"success"`
	AssetID  string `json:"assetId,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// JobStatus is the backend-owned state of a story generation job.
type JobStatus string

const (
	JobQueued           JobStatus = "queued"
	JobGeneratingStory  JobStatus = "generating_story"
	JobGeneratingImages JobStatus = "generating_images"
	JobComplete         JobStatus = "complete"
	JobFailed           JobStatus = "failed"
	JobCanceled         JobStatus = "canceled"
)

// StoryJobParams are the inputs of a story generation job.
type StoryJobParams struct {
	Prompt    string `json:"prompt"`
	ChildName string `json:"childName,omitempty"`
	PageCount int    `json:"pageCount"`
	Style     string `json:"style,omitempty"`
}

// StoryJob is a story generation job as reported by the backend.
type StoryJob struct {
	ID              string    `json:"id"`
	Status          JobStatus `json:"status"`
	Progress        int       `json:"progress"`
	ReservedCredits int       `json:"reservedCredits"`
	Error           string    `json:"error,omitempty"`
	BookID          string    `json:"bookId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
