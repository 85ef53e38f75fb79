// Package call implements the call negotiation state machine: offer, answer,
// ICE candidate exchange and hangup for a single active call.
//
// Every step that waits on media or the network re-checks, under the engine
// lock, that its session is still the active one in the expected phase before
// touching state. A continuation that loses that check releases whatever it
// acquired and returns.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"secureconnect-sync/internal/domain"
	"secureconnect-sync/pkg/cache"
	"secureconnect-sync/pkg/constants"
	apperrors "secureconnect-sync/pkg/errors"
	"secureconnect-sync/pkg/logger"
	"secureconnect-sync/pkg/metrics"
)

// recently ended call ids are remembered this long so re-delivered offers do not ring again
const endedCallMemory = 2 * time.Minute

// Engine owns the local participant's single call session
type Engine struct {
	self   string
	media  Media
	sender SignalSender
	log    *zap.Logger

	newCallID func() string

	// candidates for calls whose offer has not arrived yet
	early *cache.MemoryCache[[]domain.ICECandidate]
	ended *cache.MemoryCache[struct{}]

	mu      sync.Mutex
	current *session
	notes   []func()

	// sends that must not hold up the caller
	bg sync.WaitGroup

	onIncoming    func(*IncomingCall)
	onState       func(Snapshot)
	onFailure     func(callID string, err error)
	onRemoteTrack func(callID string, t RemoteTrack)
}

// Option configures an Engine
type Option func(*Engine)

// WithCallIDGenerator replaces the uuid call id generator
func WithCallIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newCallID = fn }
}

// NewEngine creates an idle engine for participant self
func NewEngine(self string, media Media, sender SignalSender, opts ...Option) *Engine {
	e := &Engine{
		self:      self,
		media:     media,
		sender:    sender,
		log:       logger.Named("call").With(zap.String("self", self)),
		newCallID: uuid.NewString,
		early:     cache.NewMemoryCache[[]domain.ICECandidate](constants.EarlyCandidateTTL, constants.MaxEarlyCandidateCalls),
		ended:     cache.NewMemoryCache[struct{}](endedCallMemory, 256),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnIncoming registers the handler for inbound offers
func (e *Engine) OnIncoming(fn func(*IncomingCall)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onIncoming = fn
}

// OnStateChange registers the handler for phase changes
func (e *Engine) OnStateChange(fn func(Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = fn
}

// OnFailure registers the handler for calls torn down by an error
func (e *Engine) OnFailure(fn func(callID string, err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFailure = fn
}

// OnRemoteTrack registers the handler for media received from the peer
func (e *Engine) OnRemoteTrack(fn func(callID string, t RemoteTrack)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRemoteTrack = fn
}

// Current returns the active call, if any
func (e *Engine) Current() (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return idleSnapshot, false
	}
	return e.current.snapshot(), true
}

// Phase returns the current phase, PhaseIdle when no call is active
func (e *Engine) Phase() Phase {
	s, _ := e.Current()
	return s.Phase
}

// State returns the coarse call state for display
func (e *Engine) State() State {
	s, _ := e.Current()
	return s.State
}

// StartCall places a call to peerID. The session slot is reserved before any
// I/O so a concurrent StartCall or inbound offer sees the engine busy.
func (e *Engine) StartCall(ctx context.Context, peerID string, kind domain.MediaKind) (Snapshot, error) {
	if peerID == "" || peerID == e.self {
		return idleSnapshot, apperrors.ValidationError("invalid peer id")
	}
	if !kind.Valid() {
		return idleSnapshot, apperrors.ValidationError(fmt.Sprintf("unsupported media kind %q", kind))
	}

	e.mu.Lock()
	if e.current != nil {
		e.mu.Unlock()
		return idleSnapshot, apperrors.CallInProgressError()
	}
	sess := newSession(e.newCallID(), e.self, peerID, kind, RoleInitiator)
	e.current = sess
	e.setPhaseLocked(sess, PhaseOutgoingRinging)
	e.unlockAndNotify()

	log := e.log.With(zap.String("call_id", sess.id), zap.String("peer_id", peerID))
	log.Info("Starting call", zap.String("media_kind", string(kind)))

	stream, err := e.media.Acquire(ctx, kind)
	if err != nil {
		appErr := apperrors.MediaAcquisition(err)
		e.fail(sess, appErr, false)
		return idleSnapshot, appErr
	}

	peer, err := e.media.NewPeer(stream, e.peerEvents(sess))
	if err != nil {
		stream.Stop()
		appErr := apperrors.Negotiation("failed to create peer connection", err)
		e.fail(sess, appErr, false)
		return idleSnapshot, appErr
	}

	if !e.attach(sess, stream, peer) {
		return idleSnapshot, apperrors.InvalidCallStateError("call ended before the offer was created")
	}

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		appErr := apperrors.Negotiation("failed to create offer", err)
		e.fail(sess, appErr, false)
		return idleSnapshot, appErr
	}

	payload, err := domain.EncodePayload(domain.DescriptionPayload{SDP: offer})
	if err != nil {
		appErr := apperrors.Negotiation("failed to encode offer", err)
		e.fail(sess, appErr, false)
		return idleSnapshot, appErr
	}

	// answers are accepted from here on, even if they beat the publish ack
	e.mu.Lock()
	if !e.isActiveLocked(sess, PhaseOutgoingRinging) {
		e.mu.Unlock()
		return idleSnapshot, apperrors.InvalidCallStateError("call ended before the offer was sent")
	}
	sess.offered = true
	e.queueStateLocked(sess)
	e.unlockAndNotify()

	if err := e.send(ctx, sess.signal(domain.SignalOffer, payload)); err != nil {
		e.fail(sess, err, true)
		return idleSnapshot, err
	}

	e.announce(sess)

	snap, _ := e.Current()
	if snap.CallID != sess.id {
		return idleSnapshot, apperrors.InvalidCallStateError("call ended while the offer was in flight")
	}
	return snap, nil
}

// AnswerCall accepts the ringing inbound call
func (e *Engine) AnswerCall(ctx context.Context) error {
	return e.answer(ctx, "")
}

func (e *Engine) answer(ctx context.Context, callID string) error {
	e.mu.Lock()
	sess := e.current
	if sess == nil || (callID != "" && sess.id != callID) || sess.phase != PhaseIncomingRinging {
		e.mu.Unlock()
		return apperrors.InvalidCallStateError("no ringing call to answer")
	}
	offer := *sess.remoteOffer
	e.setPhaseLocked(sess, PhaseAnswering)
	e.unlockAndNotify()

	e.log.Info("Answering call", zap.String("call_id", sess.id), zap.String("peer_id", sess.callerID))

	stream, err := e.media.Acquire(ctx, sess.kind)
	if err != nil {
		appErr := apperrors.MediaAcquisition(err)
		e.fail(sess, appErr, true)
		return appErr
	}

	peer, err := e.media.NewPeer(stream, e.peerEvents(sess))
	if err != nil {
		stream.Stop()
		appErr := apperrors.Negotiation("failed to create peer connection", err)
		e.fail(sess, appErr, true)
		return appErr
	}

	if !e.attach(sess, stream, peer) {
		return apperrors.InvalidCallStateError("call ended while answering")
	}

	answer, err := peer.CreateAnswer(ctx, offer)
	if err != nil {
		appErr := apperrors.Negotiation("failed to create answer", err)
		e.fail(sess, appErr, true)
		return appErr
	}

	if err := e.remoteApplied(sess, PhaseAnswering); err != nil {
		return err
	}

	payload, err := domain.EncodePayload(domain.DescriptionPayload{SDP: answer})
	if err != nil {
		appErr := apperrors.Negotiation("failed to encode answer", err)
		e.fail(sess, appErr, true)
		return appErr
	}

	if err := e.send(ctx, sess.signal(domain.SignalAnswer, payload)); err != nil {
		e.fail(sess, err, true)
		return err
	}

	e.announce(sess)

	e.mu.Lock()
	if !e.isActiveLocked(sess, PhaseAnswering) {
		e.mu.Unlock()
		return apperrors.InvalidCallStateError("call ended while answering")
	}
	e.setPhaseLocked(sess, PhaseConnected)
	e.unlockAndNotify()
	return nil
}

// DeclineCall rejects the ringing inbound call
func (e *Engine) DeclineCall(ctx context.Context) error {
	return e.decline(ctx, "")
}

func (e *Engine) decline(ctx context.Context, callID string) error {
	e.mu.Lock()
	sess := e.current
	if sess == nil || (callID != "" && sess.id != callID) || sess.phase != PhaseIncomingRinging {
		e.mu.Unlock()
		return apperrors.InvalidCallStateError("no ringing call to decline")
	}
	release := e.endLocked(sess)
	e.unlockAndNotify()
	release()

	return e.sendHangup(ctx, sess, domain.HangupReasonDeclined)
}

// EndCall hangs up the active call from any phase. Teardown always happens;
// the returned error only reports a failed hangup publish.
func (e *Engine) EndCall(ctx context.Context) error {
	e.mu.Lock()
	sess := e.current
	if sess == nil {
		e.mu.Unlock()
		return nil
	}
	release := e.endLocked(sess)
	e.unlockAndNotify()
	release()

	e.log.Info("Call ended locally", zap.String("call_id", sess.id))
	return e.sendHangup(ctx, sess, domain.HangupReasonEnded)
}

// HandleSignal applies an inbound signal. Signals that do not belong to the
// active call, or arrive in a phase that cannot use them, are dropped.
func (e *Engine) HandleSignal(ctx context.Context, sig domain.Signal) {
	if err := sig.Validate(); err != nil {
		e.log.Warn("Dropping invalid signal", zap.Error(err))
		return
	}
	if sig.CallerID != e.self && sig.CalleeID != e.self {
		e.stale(&sig, "signal not addressed to this participant")
		return
	}

	metrics.CallSignalsTotal.WithLabelValues("inbound", string(sig.SignalType)).Inc()

	switch sig.SignalType {
	case domain.SignalOffer:
		e.handleOffer(&sig)
	case domain.SignalAnswer:
		e.handleAnswer(ctx, &sig)
	case domain.SignalICECandidate:
		e.handleCandidate(&sig)
	case domain.SignalHangup:
		e.handleHangup(&sig)
	}
}

func (e *Engine) handleOffer(sig *domain.Signal) {
	if sig.CalleeID != e.self {
		e.stale(sig, "offer not addressed to this participant")
		return
	}
	offer, err := sig.DecodeDescription()
	if err != nil {
		e.log.Warn("Dropping malformed offer", zap.String("call_id", sig.CallID), zap.Error(err))
		return
	}

	e.mu.Lock()
	if _, gone := e.ended.Get(sig.CallID); gone {
		e.mu.Unlock()
		e.stale(sig, "offer for a call that already ended")
		return
	}
	if cur := e.current; cur != nil {
		e.mu.Unlock()
		if cur.id == sig.CallID {
			e.stale(sig, "duplicate offer")
			return
		}
		e.declineBusy(sig)
		return
	}

	sess := newSession(sig.CallID, sig.CallerID, sig.CalleeID, sig.MediaKind, RoleResponder)
	sess.remoteOffer = &offer
	if early, ok := e.early.Take(sig.CallID); ok {
		sess.inbound = append(sess.inbound, early...)
	}
	e.current = sess
	e.setPhaseLocked(sess, PhaseIncomingRinging)

	incoming := &IncomingCall{
		CallID:    sess.id,
		CallerID:  sess.callerID,
		MediaKind: sess.kind,
		engine:    e,
	}
	if fn := e.onIncoming; fn != nil {
		e.notes = append(e.notes, func() { fn(incoming) })
	}
	e.unlockAndNotify()

	e.log.Info("Incoming call",
		zap.String("call_id", sess.id),
		zap.String("peer_id", sess.callerID),
		zap.Int("early_candidates", len(sess.inbound)))
}

// declineBusy auto-declines an offer that arrives while another call is
// active. The hangup goes out in the background so the inbound event stream
// keeps moving while the transport is slow.
func (e *Engine) declineBusy(sig *domain.Signal) {
	metrics.CallBusyDeclinedTotal.Inc()
	e.log.Info("Declining offer while busy",
		zap.String("call_id", sig.CallID),
		zap.String("peer_id", sig.CallerID))

	busy := newSession(sig.CallID, sig.CallerID, sig.CalleeID, sig.MediaKind, RoleResponder)
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), constants.PublishTimeout)
		defer cancel()
		if err := e.sendHangup(ctx, busy, domain.HangupReasonBusy); err != nil {
			e.log.Warn("Failed to publish busy hangup", zap.String("call_id", sig.CallID), zap.Error(err))
		}
	}()
}

// Wait blocks until background signal sends have finished
func (e *Engine) Wait() {
	e.bg.Wait()
}

func (e *Engine) handleAnswer(ctx context.Context, sig *domain.Signal) {
	if sig.CallerID != e.self {
		e.stale(sig, "answer for a call this participant did not place")
		return
	}
	answer, err := sig.DecodeDescription()
	if err != nil {
		e.log.Warn("Dropping malformed answer", zap.String("call_id", sig.CallID), zap.Error(err))
		return
	}

	e.mu.Lock()
	sess := e.current
	if sess == nil || !sess.matches(sig) || sess.role != RoleInitiator ||
		sess.phase != PhaseOutgoingRinging || !sess.offered || sess.applying || sess.remoteSet {
		e.mu.Unlock()
		e.stale(sig, "answer does not match a ringing outgoing call")
		return
	}
	sess.applying = true
	peer := sess.peer
	e.mu.Unlock()

	if err := peer.SetRemoteDescription(ctx, answer); err != nil {
		e.fail(sess, apperrors.Negotiation("failed to apply answer", err), true)
		return
	}

	if err := e.remoteApplied(sess, PhaseOutgoingRinging); err != nil {
		return
	}

	e.mu.Lock()
	if !e.isActiveLocked(sess, PhaseOutgoingRinging) {
		e.mu.Unlock()
		return
	}
	e.setPhaseLocked(sess, PhaseConnected)
	e.unlockAndNotify()

	e.log.Info("Call connected", zap.String("call_id", sess.id))
}

func (e *Engine) handleCandidate(sig *domain.Signal) {
	cand, err := sig.DecodeCandidate()
	if err != nil {
		e.log.Warn("Dropping malformed candidate", zap.String("call_id", sig.CallID), zap.Error(err))
		return
	}

	e.mu.Lock()
	sess := e.current
	if sess != nil && sess.id == sig.CallID {
		if !sess.matches(sig) {
			e.mu.Unlock()
			e.stale(sig, "candidate tuple mismatch")
			return
		}
		if !sess.remoteSet {
			if !sess.bufferInbound(cand) {
				e.log.Warn("Candidate buffer full, dropping", zap.String("call_id", sess.id))
			}
			e.mu.Unlock()
			return
		}
		peer := sess.peer
		e.mu.Unlock()

		if err := peer.AddICECandidate(cand); err != nil {
			e.fail(sess, apperrors.Negotiation("failed to add remote candidate", err), true)
		}
		return
	}

	if _, gone := e.ended.Get(sig.CallID); gone {
		e.mu.Unlock()
		e.stale(sig, "candidate for a call that already ended")
		return
	}
	if sig.CalleeID != e.self {
		e.mu.Unlock()
		e.stale(sig, "candidate for an unknown outgoing call")
		return
	}

	// the offer may still be on its way
	e.early.Update(sig.CallID, 0, func(cur []domain.ICECandidate, _ bool) []domain.ICECandidate {
		if len(cur) >= constants.MaxBufferedCandidates {
			return cur
		}
		return append(cur, cand)
	})
	e.mu.Unlock()

	e.log.Debug("Buffered candidate ahead of offer", zap.String("call_id", sig.CallID))
}

func (e *Engine) handleHangup(sig *domain.Signal) {
	e.mu.Lock()
	sess := e.current
	if sess == nil || !sess.matches(sig) {
		// a hangup can overtake its own offer; make sure that offer never rings
		if sess == nil || sess.id != sig.CallID {
			e.early.Delete(sig.CallID)
			e.ended.Set(sig.CallID, struct{}{}, 0)
		}
		e.mu.Unlock()
		e.stale(sig, "hangup for a call that is not active")
		return
	}
	release := e.endLocked(sess)
	e.unlockAndNotify()
	release()

	e.log.Info("Call ended by peer", zap.String("call_id", sess.id))
}

// remoteApplied records that the remote description is set and flushes the
// candidates that were waiting for it
func (e *Engine) remoteApplied(sess *session, expect Phase) error {
	e.mu.Lock()
	if !e.isActiveLocked(sess, expect) {
		e.mu.Unlock()
		return apperrors.InvalidCallStateError("call ended during negotiation")
	}
	sess.remoteSet = true
	sess.applying = false
	pending := sess.inbound
	sess.inbound = nil
	peer := sess.peer
	e.mu.Unlock()

	for _, c := range pending {
		if err := peer.AddICECandidate(c); err != nil {
			appErr := apperrors.Negotiation("failed to add buffered candidate", err)
			e.fail(sess, appErr, true)
			return appErr
		}
	}
	return nil
}

// announce marks our description as published and sends the local candidates gathered meanwhile
func (e *Engine) announce(sess *session) {
	e.mu.Lock()
	if e.current != sess {
		e.mu.Unlock()
		return
	}
	sess.announced = true
	queued := sess.outbound
	sess.outbound = nil
	e.mu.Unlock()

	for _, c := range queued {
		e.sendCandidate(sess, c)
	}
}

func (e *Engine) peerEvents(sess *session) PeerEvents {
	return PeerEvents{
		OnLocalCandidate: func(c domain.ICECandidate) {
			e.mu.Lock()
			if e.current != sess {
				e.mu.Unlock()
				return
			}
			if !sess.announced {
				sess.outbound = append(sess.outbound, c)
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			e.sendCandidate(sess, c)
		},
		OnRemoteTrack: func(t RemoteTrack) {
			e.mu.Lock()
			fn := e.onRemoteTrack
			active := e.current == sess
			e.mu.Unlock()
			if active && fn != nil {
				fn(sess.id, t)
			}
		},
		OnFailed: func(err error) {
			e.fail(sess, apperrors.Negotiation("peer connection failed", err), true)
		},
	}
}

func (e *Engine) sendCandidate(sess *session, c domain.ICECandidate) {
	payload, err := domain.EncodePayload(domain.CandidatePayload{Candidate: c})
	if err != nil {
		e.log.Warn("Failed to encode local candidate", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.PublishTimeout)
	defer cancel()
	if err := e.send(ctx, sess.signal(domain.SignalICECandidate, payload)); err != nil {
		e.log.Warn("Failed to publish local candidate", zap.String("call_id", sess.id), zap.Error(err))
	}
}

// attach stores acquired resources on sess, or releases them if sess is no longer active
func (e *Engine) attach(sess *session, stream LocalStream, peer Peer) bool {
	e.mu.Lock()
	if e.current != sess {
		e.mu.Unlock()
		_ = peer.Close()
		stream.Stop()
		return false
	}
	sess.stream = stream
	sess.peer = peer
	e.mu.Unlock()
	return true
}

// fail tears sess down after an error. The peer is told with a best-effort
// hangup when it may already know about the call.
func (e *Engine) fail(sess *session, err error, notifyPeer bool) {
	e.mu.Lock()
	if e.current != sess {
		e.mu.Unlock()
		return
	}
	release := e.endLocked(sess)
	if fn := e.onFailure; fn != nil {
		e.notes = append(e.notes, func() { fn(sess.id, err) })
	}
	e.unlockAndNotify()
	release()

	metrics.CallFailuresTotal.WithLabelValues(failureKind(err)).Inc()
	e.log.Error("Call failed", zap.String("call_id", sess.id), zap.Error(err))

	if notifyPeer {
		ctx, cancel := context.WithTimeout(context.Background(), constants.PublishTimeout)
		defer cancel()
		if herr := e.sendHangup(ctx, sess, domain.HangupReasonFailed); herr != nil {
			e.log.Warn("Failed to publish hangup after failure", zap.String("call_id", sess.id), zap.Error(herr))
		}
	}
}

func failureKind(err error) string {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeMediaAcquisition:
		return "media"
	case apperrors.ErrCodeTransport:
		return "transport"
	default:
		return "negotiation"
	}
}

// endLocked moves sess through Ended back to Idle and returns its resource release
func (e *Engine) endLocked(sess *session) func() {
	e.setPhaseLocked(sess, PhaseEnded)
	e.current = nil
	e.ended.Set(sess.id, struct{}{}, 0)
	e.early.Delete(sess.id)
	e.recordTransition(PhaseEnded, PhaseIdle)
	if fn := e.onState; fn != nil {
		e.notes = append(e.notes, func() { fn(idleSnapshot) })
	}
	return sess.detach()
}

func (e *Engine) setPhaseLocked(sess *session, p Phase) {
	from := sess.phase
	sess.phase = p
	e.recordTransition(from, p)
	e.queueStateLocked(sess)
}

func (e *Engine) queueStateLocked(sess *session) {
	if fn := e.onState; fn != nil {
		snap := sess.snapshot()
		e.notes = append(e.notes, func() { fn(snap) })
	}
}

func (e *Engine) recordTransition(from, to Phase) {
	metrics.CallPhaseTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (e *Engine) isActiveLocked(sess *session, p Phase) bool {
	return e.current == sess && sess.phase == p
}

// unlockAndNotify releases the lock, then runs the queued observer callbacks
func (e *Engine) unlockAndNotify() {
	notes := e.notes
	e.notes = nil
	e.mu.Unlock()
	for _, n := range notes {
		n()
	}
}

func (e *Engine) sendHangup(ctx context.Context, sess *session, reason string) error {
	payload, err := domain.EncodePayload(domain.HangupPayload{Reason: reason})
	if err != nil {
		return err
	}
	return e.send(ctx, sess.signal(domain.SignalHangup, payload))
}

func (e *Engine) send(ctx context.Context, sig domain.Signal) error {
	if err := e.sender.SendSignal(ctx, sig); err != nil {
		if _, ok := apperrors.AsAppError(err); !ok {
			err = apperrors.Transport("failed to send "+string(sig.SignalType), err)
		}
		return err
	}
	metrics.CallSignalsTotal.WithLabelValues("outbound", string(sig.SignalType)).Inc()
	return nil
}

func (e *Engine) stale(sig *domain.Signal, reason string) {
	metrics.CallStaleSignalsTotal.WithLabelValues(string(sig.SignalType)).Inc()
	e.log.Debug("Signal ignored",
		zap.String("call_id", sig.CallID),
		zap.String("signal_type", string(sig.SignalType)),
		zap.Error(apperrors.StaleSignal(reason)))
}

// IncomingCall is handed to the UI when an offer rings
type IncomingCall struct {
	CallID    string
	CallerID  string
	MediaKind domain.MediaKind

	engine *Engine
}

// Accept answers this call if it is still ringing
func (c *IncomingCall) Accept(ctx context.Context) error {
	return c.engine.answer(ctx, c.CallID)
}

// Decline rejects this call if it is still ringing
func (c *IncomingCall) Decline(ctx context.Context) error {
	return c.engine.decline(ctx, c.CallID)
}
