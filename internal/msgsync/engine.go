// Package msgsync keeps the visible per-conversation message log: optimistic
// sends, confirmed echoes, duplicate suppression and delivery-status progress.
package msgsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"secureconnect-sync/internal/domain"
	"secureconnect-sync/pkg/constants"
	apperrors "secureconnect-sync/pkg/errors"
	"secureconnect-sync/pkg/logger"
	"secureconnect-sync/pkg/metrics"
	"secureconnect-sync/pkg/sanitize"
)

// Sender is the REST collaborator used for authoritative writes and history
type Sender interface {
	SendMessage(ctx context.Context, receiverID, content string) (*domain.Message, error)
	UpdateMessageStatus(ctx context.Context, messageID string, status domain.DeliveryStatus) error
	GetMessages(ctx context.Context, peerID string) ([]domain.Message, error)
}

// Entry is one slot of the visible log
type Entry struct {
	domain.Message
	Origin  domain.Origin
	LocalID string // temporary id of an optimistic send, kept after promotion
	Failed  bool
}

type receipt struct {
	messageID string
	status    domain.DeliveryStatus
}

// Engine owns the message logs of every conversation of one participant
type Engine struct {
	self   string
	api    Sender
	window time.Duration
	now    func() time.Time
	log    *zap.Logger

	mu     sync.Mutex
	logs   map[string][]*Entry // peer id -> entries ordered by timestamp
	index  map[string]string   // message id (server or temporary) -> peer id
	active string

	onChange func(peerID string, entries []Entry)

	wg sync.WaitGroup
}

// Option configures an Engine
type Option func(*Engine)

// WithDedupWindow sets the echo matching window
func WithDedupWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine for participant self
func NewEngine(self string, api Sender, opts ...Option) *Engine {
	e := &Engine{
		self:   self,
		api:    api,
		window: constants.DedupWindow,
		now:    time.Now,
		log:    logger.Named("msgsync").With(zap.String("self", self)),
		logs:   make(map[string][]*Entry),
		index:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnChange registers the handler called with a conversation's log after it changes
func (e *Engine) OnChange(fn func(peerID string, entries []Entry)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// Messages returns a copy of the log for peerID
func (e *Engine) Messages(peerID string) []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(peerID)
}

// SendMessage shows the message immediately, then confirms it with the REST
// collaborator. The returned entry reflects the outcome; on failure it stays
// in the log marked Failed.
func (e *Engine) SendMessage(ctx context.Context, receiverID, content string) (Entry, error) {
	if receiverID == "" || receiverID == e.self {
		return Entry{}, apperrors.ValidationError("invalid receiver id")
	}
	content = sanitize.MessageContent(content)
	if content == "" {
		return Entry{}, apperrors.MissingFieldError("content")
	}
	if !sanitize.ValidateStringLength(content, 1, constants.MaxMessageLength) {
		return Entry{}, apperrors.ValidationError("message too long")
	}

	localID := constants.OptimisticIDPrefix + uuid.NewString()
	optimistic := &Entry{
		Message: domain.Message{
			ID:         localID,
			SenderID:   e.self,
			ReceiverID: receiverID,
			Content:    content,
			Timestamp:  e.now().UTC(),
			Status:     domain.StatusSent,
		},
		Origin:  domain.OriginLocalOptimistic,
		LocalID: localID,
	}

	e.mu.Lock()
	e.insertLocked(receiverID, optimistic)
	e.unlockAndNotify(receiverID)

	confirmed, err := e.api.SendMessage(ctx, receiverID, content)
	if err != nil {
		metrics.MsgSyncSendTotal.WithLabelValues("failed").Inc()
		e.log.Warn("Message send failed", zap.String("local_id", localID), zap.Error(err))

		e.mu.Lock()
		entry := e.findLocalLocked(receiverID, localID)
		if entry != nil && entry.Origin == domain.OriginLocalOptimistic {
			entry.Failed = true
		}
		out := copyEntry(entry, optimistic)
		e.unlockAndNotify(receiverID)

		if _, ok := apperrors.AsAppError(err); !ok {
			err = apperrors.Transport("failed to send message", err)
		}
		return out, err
	}

	metrics.MsgSyncSendTotal.WithLabelValues("confirmed").Inc()

	e.mu.Lock()
	entry := e.confirmLocked(receiverID, localID, confirmed)
	out := copyEntry(entry, optimistic)
	e.unlockAndNotify(receiverID)
	return out, nil
}

// confirmLocked replaces the optimistic entry with the authoritative message
// in the same slot. An echo that already landed as a separate entry is folded in.
func (e *Engine) confirmLocked(peerID, localID string, msg *domain.Message) *Entry {
	entry := e.findLocalLocked(peerID, localID)
	if entry == nil {
		// evicted by a concurrent history reload; treat as a plain inbound message
		entry, _ = e.ingestLocked(*msg)
		return entry
	}

	if dup := e.findIDLocked(peerID, msg.ID); dup != nil && dup != entry {
		if dup.Status.Advances(msg.Status) {
			dup.Status = msg.Status
		}
		msg.Status = maxStatus(msg.Status, dup.Status)
		e.removeLocked(peerID, dup)
		metrics.MsgSyncDuplicatesTotal.WithLabelValues("echo").Inc()
	}

	delete(e.index, localID)
	promote(entry, msg)
	e.index[msg.ID] = peerID
	return entry
}

// HandleMessage merges a confirmed message received on the channel
func (e *Engine) HandleMessage(_ context.Context, msg domain.Message) {
	if msg.ID == "" || (msg.SenderID != e.self && msg.ReceiverID != e.self) {
		e.log.Warn("Dropping message not addressed to this participant", zap.String("message_id", msg.ID))
		return
	}

	peerID := msg.Peer(e.self)
	e.mu.Lock()
	_, rc := e.ingestLocked(msg)
	e.unlockAndNotify(peerID)

	if rc != nil {
		e.sendReceipt(*rc)
	}
}

// ingestLocked applies the dedup rules to msg and returns the resulting entry
// plus the receipt owed to its sender, if any
func (e *Engine) ingestLocked(msg domain.Message) (*Entry, *receipt) {
	peerID := msg.Peer(e.self)
	if !msg.Status.Valid() {
		msg.Status = domain.StatusSent
	}

	if existing := e.findIDLocked(peerID, msg.ID); existing != nil {
		metrics.MsgSyncDuplicatesTotal.WithLabelValues("id").Inc()
		if existing.Status.Advances(msg.Status) {
			existing.Status = msg.Status
		}
		if existing.Origin == domain.OriginLocalOptimistic {
			promote(existing, &msg)
		}
		return existing, nil
	}

	if echo := e.findEchoLocked(peerID, &msg); echo != nil {
		metrics.MsgSyncDuplicatesTotal.WithLabelValues("echo").Inc()
		if echo.Origin == domain.OriginLocalOptimistic {
			delete(e.index, echo.ID)
			promote(echo, &msg)
			e.index[msg.ID] = peerID
		}
		e.log.Debug("Collapsed echo", zap.String("message_id", msg.ID), zap.String("kept_id", echo.ID))
		return echo, nil
	}

	entry := &Entry{Message: msg, Origin: domain.OriginServerConfirmed}
	e.insertLocked(peerID, entry)

	if msg.SenderID == e.self {
		return entry, nil
	}
	want := domain.StatusDelivered
	if e.active == peerID {
		want = domain.StatusRead
	}
	if !entry.Status.Advances(want) {
		return entry, nil
	}
	entry.Status = want
	return entry, &receipt{messageID: entry.ID, status: want}
}

// findEchoLocked looks for an entry the inbound message duplicates: same
// content and pairing, timestamps within the window. Optimistic entries win.
func (e *Engine) findEchoLocked(peerID string, msg *domain.Message) *Entry {
	var confirmed *Entry
	for _, entry := range e.logs[peerID] {
		if entry.Content != msg.Content || !entry.SamePairing(msg) {
			continue
		}
		if absDuration(entry.Timestamp.Sub(msg.Timestamp)) >= e.window {
			continue
		}
		if entry.Origin == domain.OriginLocalOptimistic {
			return entry
		}
		if confirmed == nil {
			confirmed = entry
		}
	}
	return confirmed
}

// HandleStatusUpdate advances a message's delivery status. Backward moves and
// unknown ids are ignored.
func (e *Engine) HandleStatusUpdate(_ context.Context, upd domain.StatusUpdate) {
	e.mu.Lock()
	peerID, ok := e.index[upd.MessageID]
	if !ok {
		e.mu.Unlock()
		metrics.MsgSyncStatusUpdatesTotal.WithLabelValues("unknown").Inc()
		e.log.Debug("Status update for unknown message", zap.String("message_id", upd.MessageID))
		return
	}
	entry := e.findIDLocked(peerID, upd.MessageID)
	if entry == nil || !entry.Status.Advances(upd.Status) {
		e.mu.Unlock()
		metrics.MsgSyncStatusUpdatesTotal.WithLabelValues("backward").Inc()
		return
	}
	entry.Status = upd.Status
	e.unlockAndNotify(peerID)

	metrics.MsgSyncStatusUpdatesTotal.WithLabelValues("applied").Inc()
}

// SetActiveConversation records which conversation is on screen. Inbound
// messages from that peer are marked read and acknowledged.
func (e *Engine) SetActiveConversation(peerID string) {
	e.mu.Lock()
	e.active = peerID
	if peerID == "" {
		e.mu.Unlock()
		return
	}
	var receipts []receipt
	for _, entry := range e.logs[peerID] {
		if entry.SenderID != peerID || entry.Origin != domain.OriginServerConfirmed {
			continue
		}
		if entry.Status.Advances(domain.StatusRead) {
			entry.Status = domain.StatusRead
			receipts = append(receipts, receipt{messageID: entry.ID, status: domain.StatusRead})
		}
	}
	e.unlockAndNotify(peerID)

	for _, rc := range receipts {
		e.sendReceipt(rc)
	}
}

// ActiveConversation returns the peer whose conversation is on screen
func (e *Engine) ActiveConversation() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// LoadConversation fetches history for peerID and merges it into the log
func (e *Engine) LoadConversation(ctx context.Context, peerID string) error {
	msgs, err := e.api.GetMessages(ctx, peerID)
	if err != nil {
		if _, ok := apperrors.AsAppError(err); !ok {
			err = apperrors.Transport("failed to load conversation", err)
		}
		return err
	}

	var receipts []receipt
	e.mu.Lock()
	for _, msg := range msgs {
		if msg.ID == "" || msg.Peer(e.self) != peerID {
			continue
		}
		if _, rc := e.ingestLocked(msg); rc != nil {
			receipts = append(receipts, *rc)
		}
	}
	e.unlockAndNotify(peerID)

	e.log.Debug("Loaded conversation", zap.String("peer_id", peerID), zap.Int("messages", len(msgs)))
	for _, rc := range receipts {
		e.sendReceipt(rc)
	}
	return nil
}

// ShouldAutoScroll reports whether the view should jump to entry
func (e *Engine) ShouldAutoScroll(nearBottom bool, entry Entry) bool {
	return nearBottom || entry.SenderID == e.self
}

// IsNearBottom reports whether a scroll position is close enough to the end of the log
func IsNearBottom(scrollTop, clientHeight, scrollHeight float64) bool {
	return scrollHeight-scrollTop-clientHeight < constants.NearBottomThreshold
}

// Close waits for outstanding receipts
func (e *Engine) Close() {
	e.wg.Wait()
}

func (e *Engine) sendReceipt(rc receipt) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultRequestTimeout)
		defer cancel()
		if err := e.api.UpdateMessageStatus(ctx, rc.messageID, rc.status); err != nil {
			e.log.Warn("Failed to send receipt",
				zap.String("message_id", rc.messageID),
				zap.String("status", string(rc.status)),
				zap.Error(err))
		}
	}()
}

func (e *Engine) insertLocked(peerID string, entry *Entry) {
	log := e.logs[peerID]
	i := sort.Search(len(log), func(i int) bool {
		return log[i].Timestamp.After(entry.Timestamp)
	})
	log = append(log, nil)
	copy(log[i+1:], log[i:])
	log[i] = entry
	e.logs[peerID] = log
	e.index[entry.ID] = peerID
}

func (e *Engine) removeLocked(peerID string, entry *Entry) {
	log := e.logs[peerID]
	for i, cur := range log {
		if cur == entry {
			e.logs[peerID] = append(log[:i], log[i+1:]...)
			return
		}
	}
}

func (e *Engine) findIDLocked(peerID, id string) *Entry {
	for _, entry := range e.logs[peerID] {
		if entry.ID == id {
			return entry
		}
	}
	return nil
}

func (e *Engine) findLocalLocked(peerID, localID string) *Entry {
	for _, entry := range e.logs[peerID] {
		if entry.LocalID == localID {
			return entry
		}
	}
	return nil
}

func (e *Engine) snapshotLocked(peerID string) []Entry {
	log := e.logs[peerID]
	out := make([]Entry, len(log))
	for i, entry := range log {
		out[i] = *entry
	}
	return out
}

func (e *Engine) unlockAndNotify(peerID string) {
	fn := e.onChange
	var entries []Entry
	if fn != nil {
		entries = e.snapshotLocked(peerID)
	}
	e.mu.Unlock()
	if fn != nil {
		fn(peerID, entries)
	}
}

// promote turns entry into the confirmed form of msg without moving it
func promote(entry *Entry, msg *domain.Message) {
	status := maxStatus(entry.Status, msg.Status)
	entry.ID = msg.ID
	entry.Timestamp = msg.Timestamp
	entry.Content = msg.Content
	entry.Status = status
	entry.Origin = domain.OriginServerConfirmed
	entry.Failed = false
}

func maxStatus(a, b domain.DeliveryStatus) domain.DeliveryStatus {
	if a.Advances(b) {
		return b
	}
	return a
}

func copyEntry(entry, fallback *Entry) Entry {
	if entry == nil {
		return *fallback
	}
	return *entry
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
