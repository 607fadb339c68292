package odm

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrMissingID    = errors.New("odm: document must have an identity before saving")
	ErrUnknownModel = errors.New("odm: unknown model")
	ErrNotFound     = errors.New("odm: document not found")
)

// VersionError reports a save whose version check matched no document: the
// stored document changed since it was loaded, or was removed.
type VersionError struct {
	Model         string
	ID            any
	Version       any
	ModifiedPaths []string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("odm: no matching %s document found for id %v version %v, modified paths %q",
		e.Model, e.ID, e.Version, strings.Join(e.ModifiedPaths, ", "))
}

// DocumentNotFoundError is returned by saves of models that require the
// update to match a document.
type DocumentNotFoundError struct {
	Model  string
	Filter bson.M
}

func (e *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("odm: no %s document found for query %v", e.Model, e.Filter)
}
