package client

import (
	"context"

	"github.com/ressKim-io/leafscan/internal/domain/entity"
	"github.com/ressKim-io/leafscan/internal/domain/service"
)

// ImageClassifier adapts ClassifierClient to the Classifier interface
type ImageClassifier struct {
	client *ClassifierClient
}

// NewImageClassifier creates a new ImageClassifier
func NewImageClassifier(client *ClassifierClient) service.Classifier {
	return &ImageClassifier{client: client}
}

// Classify classifies a single image
func (c *ImageClassifier) Classify(ctx context.Context, file *entity.SelectedFile) (*entity.ClassificationResult, error) {
	resp, err := c.client.Classify(ctx, file)
	if err != nil {
		return nil, err
	}

	return &entity.ClassificationResult{
		Class:      resp.Class,
		Confidence: resp.Confidence,
	}, nil
}
