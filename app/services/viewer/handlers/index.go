package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// index serves the single page that renders the node's event stream and
// balances.
type index struct {
	path string
}

func newIndex() (*index, error) {
	const path = "app/services/viewer/assets/views/index.html"
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat index page: %w", err)
	}

	return &index{path: path}, nil
}

func (ig *index) handler(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	page, err := os.Open(ig.path)
	if err != nil {
		return fmt.Errorf("open index page: %w", err)
	}
	defer page.Close()

	io.Copy(w, page)

	return nil
}
