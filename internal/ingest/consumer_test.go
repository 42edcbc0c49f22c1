package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/r03el/photograbber/internal/queue/domain"
	"github.com/r03el/photograbber/internal/testsupport"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settlement struct {
	tag     uint64
	acked   bool
	requeue bool
}

type fakeAcknowledger struct {
	mu          sync.Mutex
	settlements []settlement
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlements = append(f.settlements, settlement{tag: tag, acked: true})
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlements = append(f.settlements, settlement{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) all() []settlement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]settlement(nil), f.settlements...)
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
	subs []domain.Submission
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, sub domain.Submission) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[sub.ExternalFileRef] {
		return false, nil
	}
	f.seen[sub.ExternalFileRef] = true
	f.subs = append(f.subs, sub)
	return true, nil
}

type fakeSource struct {
	deliveries chan amqp.Delivery
	prefetch   int
	consumeErr error
}

func (f *fakeSource) SetPrefetch(count int) error {
	f.prefetch = count
	return nil
}

func (f *fakeSource) Consume(string) (<-chan amqp.Delivery, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return f.deliveries, nil
}

func newTestConsumer(queue Enqueuer, source DeliverySource) *Consumer {
	return NewConsumer(&ConsumerConfig{
		Logger:          testsupport.DiscardLogger(),
		Source:          source,
		Queue:           queue,
		PrefetchCount:   4,
		RedeliveryDelay: time.Millisecond,
	})
}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: []byte(body)}
}

const validBody = `{"file_ref":"f1","group_id":-100,"user_id":7,"submitted_at_ms":1700000000000,"media_kind":"image"}`

func TestHandleDelivery(t *testing.T) {
	storeDown := domain.NewStoreError("insert queue item", errors.New("database is locked"))

	tests := []struct {
		name        string
		body        string
		enqueueErr  error
		wantAcked   bool
		wantRequeue bool
	}{
		{name: "valid submission is acked", body: validBody, wantAcked: true},
		{name: "malformed json is dropped", body: `{"file_ref":`, wantAcked: false, wantRequeue: false},
		{name: "unknown media kind is dropped", body: `{"file_ref":"f1","media_kind":"sticker"}`, wantAcked: false, wantRequeue: false},
		{name: "store outage is requeued", body: validBody, enqueueErr: storeDown, wantAcked: false, wantRequeue: true},
		{name: "other enqueue error is dropped", body: validBody, enqueueErr: fmt.Errorf("boom"), wantAcked: false, wantRequeue: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAcknowledger{}
			c := newTestConsumer(&fakeEnqueuer{err: tt.enqueueErr}, &fakeSource{})

			c.handleDelivery(context.Background(), delivery(ack, 9, tt.body))

			got := ack.all()
			require.Len(t, got, 1)
			assert.Equal(t, uint64(9), got[0].tag)
			assert.Equal(t, tt.wantAcked, got[0].acked)
			assert.Equal(t, tt.wantRequeue, got[0].requeue)
		})
	}
}

func TestHandleDeliveryPausesDuringStoreOutage(t *testing.T) {
	storeDown := domain.NewStoreError("enqueue", errors.New("database is locked"))
	queue := &fakeEnqueuer{err: storeDown}
	c := NewConsumer(&ConsumerConfig{
		Logger:          testsupport.DiscardLogger(),
		Source:          &fakeSource{},
		Queue:           queue,
		RedeliveryDelay: 20 * time.Millisecond,
	})

	ack := &fakeAcknowledger{}
	start := time.Now()
	c.handleDelivery(context.Background(), delivery(ack, 1, validBody))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// Consecutive outages back off further.
	start = time.Now()
	c.handleDelivery(context.Background(), delivery(ack, 2, validBody))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, 2, c.outages)

	got := ack.all()
	require.Len(t, got, 2)
	assert.True(t, got[1].requeue)

	// A successful enqueue resets the backoff.
	queue.mu.Lock()
	queue.err = nil
	queue.mu.Unlock()
	c.handleDelivery(context.Background(), delivery(ack, 3, validBody))
	assert.Zero(t, c.outages)
}

func TestPauseBeforeRedelivery(t *testing.T) {
	c := NewConsumer(&ConsumerConfig{Logger: testsupport.DiscardLogger(), RedeliveryDelay: 10 * time.Second})

	tests := []struct {
		outages  int
		expected time.Duration
	}{
		{outages: 0, expected: 10 * time.Second},
		{outages: 1, expected: 20 * time.Second},
		{outages: 2, expected: maxRedeliveryDelay},
		{outages: 40, expected: maxRedeliveryDelay},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, tt := range tests {
		t.Run(fmt.Sprintf("outages=%d", tt.outages), func(t *testing.T) {
			c.outages = tt.outages
			// A canceled context ends the pause at once.
			assert.Equal(t, tt.expected, c.pauseBeforeRedelivery(ctx))
		})
	}
}

func TestHandleDeliveryAcksDuplicates(t *testing.T) {
	ack := &fakeAcknowledger{}
	queue := &fakeEnqueuer{}
	c := newTestConsumer(queue, &fakeSource{})

	c.handleDelivery(context.Background(), delivery(ack, 1, validBody))
	c.handleDelivery(context.Background(), delivery(ack, 2, validBody))

	got := ack.all()
	require.Len(t, got, 2)
	assert.True(t, got[0].acked)
	assert.True(t, got[1].acked)
	assert.Len(t, queue.subs, 1)
}

func TestHandleDeliveryFiltersGroups(t *testing.T) {
	ack := &fakeAcknowledger{}
	queue := &fakeEnqueuer{}
	c := newTestConsumer(queue, &fakeSource{})
	c.groups = NewGroupFilter(true, []int64{-200})

	c.handleDelivery(context.Background(), delivery(ack, 1, validBody))

	got := ack.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].acked)
	assert.Empty(t, queue.subs)
}

func TestGroupFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter *GroupFilter
		group  int64
		want   bool
	}{
		{name: "nil filter admits all", filter: nil, group: -1, want: true},
		{name: "disabled filter admits all", filter: NewGroupFilter(false, []int64{-2}), group: -1, want: true},
		{name: "monitored group", filter: NewGroupFilter(true, []int64{-1, -2}), group: -2, want: true},
		{name: "unmonitored group", filter: NewGroupFilter(true, []int64{-1}), group: -2, want: false},
		{name: "enabled with no groups admits none", filter: NewGroupFilter(true, nil), group: -1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Allows(tt.group))
			assert.Equal(t, tt.want, tt.filter.Admits(domain.Submission{OriginGroupID: tt.group}))
		})
	}
}

func TestConsumerRun(t *testing.T) {
	ack := &fakeAcknowledger{}
	queue := &fakeEnqueuer{}
	source := &fakeSource{deliveries: make(chan amqp.Delivery, 2)}
	c := newTestConsumer(queue, source)

	source.deliveries <- delivery(ack, 1, validBody)
	source.deliveries <- delivery(ack, 2, `{"file_ref":"f2","group_id":1,"user_id":2,"submitted_at_ms":5,"media_kind":"document","mime_type":"video/mp4","file_name":"clip.mp4"}`)
	close(source.deliveries)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, 4, source.prefetch)
	assert.Len(t, ack.all(), 2)
	require.Len(t, queue.subs, 2)
	assert.Equal(t, domain.MediaDocumentVideo, queue.subs[1].MediaKind)
	assert.Equal(t, "clip.mp4", queue.subs[1].OriginalFileName)
}

func TestConsumerRunConsumeError(t *testing.T) {
	c := newTestConsumer(&fakeEnqueuer{}, &fakeSource{consumeErr: amqp.ErrClosed})

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	source := &fakeSource{deliveries: make(chan amqp.Delivery)}
	c := newTestConsumer(&fakeEnqueuer{}, source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestDecodeSubmission(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind domain.MediaKind
		wantErr  bool
	}{
		{name: "video note", body: `{"file_ref":"a","submitted_at_ms":1,"media_kind":"video-note"}`, wantKind: domain.MediaVideoNote},
		{name: "document by mime", body: `{"file_ref":"a","media_kind":"document","mime_type":"image/png"}`, wantKind: domain.MediaDocumentImage},
		{name: "document by extension", body: `{"file_ref":"a","media_kind":"document","file_name":"IMG_1.HEIC"}`, wantKind: domain.MediaDocumentImage},
		{name: "document neither image nor video", body: `{"file_ref":"a","media_kind":"document","mime_type":"application/pdf","file_name":"x.pdf"}`, wantErr: true},
		{name: "missing ref", body: `{"media_kind":"image"}`, wantErr: true},
		{name: "not json", body: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := DecodeSubmission([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, sub.MediaKind)
		})
	}
}

func TestEncodeSubmissionRoundTrip(t *testing.T) {
	sub := domain.Submission{
		ExternalFileRef:  "ref",
		OriginGroupID:    -42,
		OriginUserID:     3,
		SubmittedAtMs:    1700000000123,
		MediaKind:        domain.MediaVideo,
		OriginalFileName: "movie.mov",
	}

	body, err := EncodeSubmission(sub)
	require.NoError(t, err)

	decoded, err := DecodeSubmission(body)
	require.NoError(t, err)
	assert.Equal(t, sub, decoded)
}
