package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/runger/storykit/internal/backend"
)

// seedFile is the preload format:
//
//	books:
//	  - id: moon-42
//	    title: Goodnight Fox
//	    last_read: 2
//	    pages:
//	      - text: Once upon a time...
//	        image_url: https://example.com/1.png
type seedFile struct {
	Books []seedBook `yaml:"books"`
}

type seedBook struct {
	ID       string     `yaml:"id"`
	Title    string     `yaml:"title"`
	LastRead int        `yaml:"last_read"`
	Teaser   string     `yaml:"teaser_status"`
	Pages    []seedPage `yaml:"pages"`
}

type seedPage struct {
	Text     string `yaml:"text"`
	ImageURL string `yaml:"image_url"`
}

// loadSeed reads path into mem and returns the number of books loaded.
func loadSeed(mem *backend.Memory, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse seed: %w", err)
	}

	for _, b := range seed.Books {
		if b.ID == "" {
			return 0, fmt.Errorf("seed book %q: id is required", b.Title)
		}
		mem.PutBook(backend.Book{
			ID:                b.ID,
			Title:             b.Title,
			PageCount:         len(b.Pages),
			LastReadPageIndex: b.LastRead,
			TeaserStatus:      backend.TeaserStatus(b.Teaser),
		})
		for i, p := range b.Pages {
			mem.PutPage(backend.Page{BookID: b.ID, Index: i, Text: p.Text, ImageURL: p.ImageURL})
		}
	}
	return len(seed.Books), nil
}
