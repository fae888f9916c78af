package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const CommandOpen = "open"

// Opener lifts the barrier in front of a camera.
type Opener interface {
	Open(ctx context.Context, cameraID string, bookingID int64) error
}

// PublishAPI is the part of the IoT data plane client the gate uses.
type PublishAPI interface {
	Publish(ctx context.Context, params *iotdataplane.PublishInput, optFns ...func(*iotdataplane.Options)) (*iotdataplane.PublishOutput, error)
}

type Command struct {
	Command   string `json:"command"`
	BookingID int64  `json:"booking_id"`
	RequestID string `json:"request_id"`
}

// IoTGate publishes barrier commands over MQTT through AWS IoT Core.
type IoTGate struct {
	client      PublishAPI
	topicPrefix string
	log         zerolog.Logger
}

func NewIoTGate(client PublishAPI, topicPrefix string, log zerolog.Logger) *IoTGate {
	return &IoTGate{
		client:      client,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		log:         log,
	}
}

func (g *IoTGate) Topic(cameraID string) string {
	return g.topicPrefix + "/" + cameraID
}

func (g *IoTGate) Open(ctx context.Context, cameraID string, bookingID int64) error {
	if cameraID == "" {
		return errors.New("gate: camera id is required")
	}

	cmd := Command{
		Command:   CommandOpen,
		BookingID: bookingID,
		RequestID: uuid.New().String(),
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("gate: marshal command: %w", err)
	}

	topic := g.Topic(cameraID)
	_, err = g.client.Publish(ctx, &iotdataplane.PublishInput{
		Topic:   aws.String(topic),
		Qos:     1,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("gate: publish to %s: %w", topic, err)
	}

	g.log.Info().
		Str("topic", topic).
		Str("camera_id", cameraID).
		Int64("booking_id", bookingID).
		Str("request_id", cmd.RequestID).
		Msg("gate open command sent")
	return nil
}

// Noop is used when no barrier is wired to the cameras.
type Noop struct{}

func (Noop) Open(context.Context, string, int64) error { return nil }
