// Package archive writes the final record of each target as a JSON document.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// Archiver stores final records in a blob store.
type Archiver struct {
	blobs draw.BlobStore
}

// New creates an Archiver.
func New(blobs draw.BlobStore) *Archiver {
	return &Archiver{blobs: blobs}
}

// Path returns the object path of rec: <family>/<yyyy-mm-dd>/<id>.json.
func Path(rec draw.Record) string {
	return path.Join(rec.Family, rec.DrawDate.Format("2006-01-02"), rec.ID+".json")
}

// Archive writes rec and returns the object URI.
func (a *Archiver) Archive(ctx context.Context, rec draw.Record) (string, error) {
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	uri, err := a.blobs.PutObject(ctx, Path(rec), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive record %s: %w", rec.ID, err)
	}
	return uri, nil
}
