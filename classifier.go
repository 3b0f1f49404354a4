package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/rs/zerolog/log"
)

type RekognitionAPI interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// ClassifierClient runs Rekognition against images that already live in S3.
type ClassifierClient struct {
	api RekognitionAPI
}

func NewClassifierClient(api RekognitionAPI) *ClassifierClient {
	return &ClassifierClient{api: api}
}

func (c *ClassifierClient) DetectLabels(ctx context.Context, ref ObjectRef, maxLabels int32, minConfidence float64) ([]Detection, error) {
	out, err := c.api.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         s3Image(ref),
		MaxLabels:     aws.Int32(maxLabels),
		MinConfidence: aws.Float32(float32(minConfidence)),
	})
	if err != nil {
		return nil, fmt.Errorf("detect labels %s: %w", ref, err)
	}

	detections := make([]Detection, 0, len(out.Labels))
	for i, label := range out.Labels {
		detections = append(detections, Detection{
			Label:      aws.ToString(label.Name),
			Confidence: float64(aws.ToFloat32(label.Confidence)),
			Kind:       KindOther,
			ID:         i,
		})
	}

	log.Debug().Str("image", ref.String()).Int("labels", len(detections)).Msg("Detected labels")
	return detections, nil
}

func (c *ClassifierClient) DetectText(ctx context.Context, ref ObjectRef) ([]Detection, error) {
	out, err := c.api.DetectText(ctx, &rekognition.DetectTextInput{
		Image: s3Image(ref),
	})
	if err != nil {
		return nil, fmt.Errorf("detect text %s: %w", ref, err)
	}

	detections := make([]Detection, 0, len(out.TextDetections))
	for _, text := range out.TextDetections {
		d := Detection{
			Label:      aws.ToString(text.DetectedText),
			Confidence: float64(aws.ToFloat32(text.Confidence)),
			Kind:       textKind(text.Type),
			ID:         int(aws.ToInt32(text.Id)),
		}
		if text.ParentId != nil {
			parent := int(*text.ParentId)
			d.ParentID = &parent
		}

		log.Debug().
			Str("image", ref.String()).
			Str("text", d.Label).
			Float64("confidence", d.Confidence).
			Int("id", d.ID).
			Str("type", string(d.Kind)).
			Msg("Detected text")
		detections = append(detections, d)
	}
	return detections, nil
}

func s3Image(ref ObjectRef) *types.Image {
	return &types.Image{
		S3Object: &types.S3Object{
			Bucket: aws.String(ref.Bucket),
			Name:   aws.String(ref.Key),
		},
	}
}

func textKind(t types.TextTypes) DetectionKind {
	switch t {
	case types.TextTypesLine:
		return KindLine
	case types.TextTypesWord:
		return KindWord
	default:
		return KindOther
	}
}
