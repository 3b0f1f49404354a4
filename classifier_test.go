package main

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDetectLabels(t *testing.T) {
	api := new(MockRekognition)
	api.On("DetectLabels", mock.Anything, mock.MatchedBy(func(input *rekognition.DetectLabelsInput) bool {
		return *input.Image.S3Object.Bucket == "njit-cs-643" &&
			*input.Image.S3Object.Name == "a.jpg" &&
			*input.MaxLabels == 10 &&
			*input.MinConfidence == 90
	})).Return(&rekognition.DetectLabelsOutput{
		Labels: []types.Label{
			{Name: aws.String("Car"), Confidence: aws.Float32(95.5)},
			{Name: aws.String("Vehicle"), Confidence: aws.Float32(95.4)},
		},
	}, nil)

	detections, err := NewClassifierClient(api).DetectLabels(context.Background(), ObjectRef{Bucket: "njit-cs-643", Key: "a.jpg"}, 10, 90)

	require.NoError(t, err)
	require.Len(t, detections, 2)
	assert.Equal(t, "Car", detections[0].Label)
	assert.InDelta(t, 95.5, detections[0].Confidence, 0.001)
	assert.Equal(t, KindOther, detections[0].Kind)
	assert.Equal(t, 1, detections[1].ID)
	api.AssertExpectations(t)
}

func TestDetectText(t *testing.T) {
	api := new(MockRekognition)
	api.On("DetectText", mock.Anything, mock.Anything).Return(&rekognition.DetectTextOutput{
		TextDetections: []types.TextDetection{
			{DetectedText: aws.String("NJ 123"), Type: types.TextTypesLine, Id: aws.Int32(0), Confidence: aws.Float32(99)},
			{DetectedText: aws.String("NJ"), Type: types.TextTypesWord, Id: aws.Int32(1), ParentId: aws.Int32(0), Confidence: aws.Float32(98)},
		},
	}, nil)

	detections, err := NewClassifierClient(api).DetectText(context.Background(), ObjectRef{Bucket: "b", Key: "a.jpg"})

	require.NoError(t, err)
	require.Len(t, detections, 2)
	assert.Equal(t, KindLine, detections[0].Kind)
	assert.Nil(t, detections[0].ParentID)
	assert.Equal(t, KindWord, detections[1].Kind)
	require.NotNil(t, detections[1].ParentID)
	assert.Equal(t, 0, *detections[1].ParentID)
}

func TestDetectTextError(t *testing.T) {
	api := new(MockRekognition)
	api.On("DetectText", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	_, err := NewClassifierClient(api).DetectText(context.Background(), ObjectRef{Bucket: "b", Key: "a.jpg"})

	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "b/a.jpg")
}
