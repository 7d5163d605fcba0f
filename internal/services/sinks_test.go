package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

type fakeKafkaWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func sampleFinding(severity string) *models.Finding {
	return &models.Finding{
		ID:              uuid.New(),
		SubjectID:       "error:0011223344556677",
		SubjectKind:     models.SubjectKindErrorCluster,
		Severity:        severity,
		Category:        "database",
		Title:           "Pool <exhausted>",
		Description:     "Pool hits its ceiling",
		SuggestedAction: "Raise the pool size",
		Status:          models.FindingStatusOpen,
		Occurrences:     4,
	}
}

func TestSESAlertNotifier_SendsAtThreshold(t *testing.T) {
	client := &fakeSES{}
	n := services.NewSESAlertNotifierWithClient(client, services.AlertMailConfig{
		From: "alerts@example.com", To: []string{"ops@example.com"}, MinSeverity: "high",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, n.Notify(context.Background(), sampleFinding(models.SeverityMedium)))
	assert.Empty(t, client.inputs, "below threshold is not mailed")

	require.NoError(t, n.Notify(context.Background(), sampleFinding(models.SeverityCritical)))
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "alerts@example.com", *in.Source)
	assert.Equal(t, []string{"ops@example.com"}, in.Destination.ToAddresses)
	assert.Contains(t, *in.Message.Subject.Data, "CRITICAL")
	assert.Contains(t, *in.Message.Body.Html.Data, "Pool &lt;exhausted&gt;")
	assert.Contains(t, *in.Message.Body.Text.Data, "Raise the pool size")
}

func TestSESAlertNotifier_Error(t *testing.T) {
	client := &fakeSES{err: errors.New("throttled")}
	n := services.NewSESAlertNotifierWithClient(client, services.AlertMailConfig{
		From: "a@example.com", To: []string{"b@example.com"},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := n.Notify(context.Background(), sampleFinding(models.SeverityHigh))

	assert.Error(t, err)
}

func TestKafkaFindingPublisher_Notify(t *testing.T) {
	w := &fakeKafkaWriter{}
	p := services.NewKafkaFindingPublisherWithWriter(w)
	finding := sampleFinding(models.SeverityLow)

	require.NoError(t, p.Notify(context.Background(), finding))
	require.Len(t, w.messages, 1)
	assert.Equal(t, []byte(finding.SubjectID), w.messages[0].Key)

	var event services.FindingEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &event))
	assert.Equal(t, "finding_raised", event.Type)
	assert.Equal(t, finding.ID, event.Finding.ID)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaFindingPublisher_WriteError(t *testing.T) {
	p := services.NewKafkaFindingPublisherWithWriter(&fakeKafkaWriter{err: errors.New("no brokers")})

	assert.Error(t, p.Notify(context.Background(), sampleFinding(models.SeverityLow)))
}
