package vision

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/rs/zerolog"

	"parking-checkin/internal/utils"
)

// DetectTextAPI is the subset of the Rekognition client used here.
type DetectTextAPI interface {
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// RekognitionEngine runs OCR through AWS Rekognition DetectText.
// Rekognition has no character whitelist, so the alphabet is applied to its
// output instead.
type RekognitionEngine struct {
	client DetectTextAPI
	log    zerolog.Logger
}

func NewRekognitionEngine(client DetectTextAPI, log zerolog.Logger) *RekognitionEngine {
	return &RekognitionEngine{client: client, log: log}
}

func (e *RekognitionEngine) Recognize(ctx context.Context, img image.Image, opts EngineOptions) (EngineResult, error) {
	data, err := encodeJPEG(img)
	if err != nil {
		return EngineResult{}, err
	}

	out, err := e.client.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: data},
	})
	if err != nil {
		return EngineResult{}, fmt.Errorf("rekognition detect text: %w", err)
	}

	var best EngineResult
	for _, d := range out.TextDetections {
		if d.DetectedText == nil || d.Confidence == nil {
			continue
		}
		switch d.Type {
		case types.TextTypesLine:
		case types.TextTypesWord:
			if opts.SingleLine {
				continue
			}
		default:
			continue
		}

		text := utils.FilterAlphabet(strings.ToUpper(aws.ToString(d.DetectedText)), opts.Alphabet)
		conf := float64(aws.ToFloat32(d.Confidence))
		e.log.Debug().
			Str("text", text).
			Float64("confidence", conf).
			Str("type", string(d.Type)).
			Msg("rekognition detection")

		if text != "" && conf > best.Confidence {
			best = EngineResult{Text: text, Confidence: conf}
		}
	}
	return best, nil
}
