package grading

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jwalitptl/livsafe-api/internal/model"
)

type remoteResponse struct {
	Grade      string `json:"grade"`
	Confidence int    `json:"confidence"`
}

// RemoteClassifier posts the features to an inference service and returns
// its answer.
type RemoteClassifier struct {
	client *resty.Client
	url    string
}

func NewRemoteClassifier(url string, timeout time.Duration) *RemoteClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &RemoteClassifier{client: client, url: url}
}

func (c *RemoteClassifier) Name() string { return "remote" }

func (c *RemoteClassifier) Classify(ctx context.Context, f Features) (Prediction, error) {
	var out remoteResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(f).
		SetResult(&out).
		Post(c.url)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to call inference service: %w", err)
	}
	if resp.IsError() {
		return Prediction{}, fmt.Errorf("inference service returned %d", resp.StatusCode())
	}

	grade, err := model.ParseGrade(out.Grade)
	if err != nil {
		return Prediction{}, fmt.Errorf("inference service: %w", err)
	}
	if out.Confidence < 0 || out.Confidence > 100 {
		return Prediction{}, fmt.Errorf("inference service: confidence %d out of range", out.Confidence)
	}

	return Prediction{Grade: grade, Confidence: out.Confidence}, nil
}
