// Package ocr reads the text out of CAPTCHA images.
package ocr

import (
	"context"
	"errors"
)

// ErrEmptyResult is returned when a classifier ran but produced no text.
var ErrEmptyResult = errors.New("ocr: empty result")

// Classifier turns an image into the text it displays.
//
// note: fault injection point
type Classifier interface {
	Classify(ctx context.Context, image []byte) (string, error)
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(ctx context.Context, image []byte) (string, error)

func (f ClassifierFunc) Classify(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}
