// Package worker provides a NATS worker that turns pipeline text events into
// speech through the same deduplicating path as the HTTP talk endpoint.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/render-gateway/internal/core"
	"github.com/book-expert/render-gateway/internal/speech"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 90 * time.Second

var (
	// ErrTextKeyEmpty indicates that the event does not reference any text.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrTextEmpty indicates that the referenced text object is blank.
	ErrTextEmpty = errors.New("text object is empty")
)

// Speaker produces the content-hash key of audio for text.
type Speaker interface {
	Speak(ctx context.Context, text, voice, format string) (*speech.TalkResult, error)
}

// NatsWorker listens for speech jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	texts          core.ObjectStore
	speaker        Speaker
	format         string
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. texts is the store
// holding the text objects referenced by events; format is the audio format
// requested for every job.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	texts core.ObjectStore,
	speaker Speaker,
	format string,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		texts:          texts,
		speaker:        speaker,
		format:         format,
		log:            log,
	}
}

// Run starts the worker and blocks until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.System("Listening for speech jobs on subject: %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, processErr := w.processSpeechJob(ctx, event)
	if processErr != nil {
		w.log.Error("Failed to process speech job for workflow %s: %v", event.Header.WorkflowID, processErr)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processSpeechJob reads the referenced text and returns the key of its audio.
func (w *NatsWorker) processSpeechJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	obj, err := w.texts.Get(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	if len(obj.Data) == 0 {
		return "", fmt.Errorf("%w: '%s'", ErrTextEmpty, event.TextKey)
	}

	result, err := w.speaker.Speak(ctx, string(obj.Data), event.Voice, w.format)
	if err != nil {
		return "", fmt.Errorf("failed to synthesize text '%s': %w", event.TextKey, err)
	}

	w.log.Info("Workflow %s page %d/%d -> audio %s", event.Header.WorkflowID, event.PageNumber, event.TotalPages, result.Key)

	return result.Key, nil
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}
