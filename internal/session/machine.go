package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/medinterp/internal/delta"
	"github.com/MrWong99/medinterp/internal/observe"
	"github.com/MrWong99/medinterp/internal/protocol"
	"github.com/MrWong99/medinterp/internal/transport"
	"github.com/MrWong99/medinterp/pkg/audio"
)

// inboxSize bounds the number of queued commands and transport callbacks.
// Producers block once it is full.
const inboxSize = 256

// ErrStopped is returned by commands issued after [Machine.Run] has returned.
var ErrStopped = errors.New("session: machine stopped")

// Sender delivers envelopes to the service. [*transport.Transport] satisfies
// it.
type Sender interface {
	Send(ctx context.Context, env protocol.Envelope) error
}

// Config configures a [Machine].
type Config struct {
	// Sender carries turn submissions and summary requests. Required.
	Sender Sender

	// Source opens the microphone for each turn. Required.
	Source audio.Source

	// Sink plays synthesized responses. Required.
	Sink audio.Sink

	// Profile selects the envelope dialect. Defaults to [ProfileTurn].
	Profile Profile

	// ReadyOnOpen marks the session connected as soon as the transport
	// opens instead of waiting for the service-ready envelope.
	ReadyOnOpen bool

	// OnEvent receives every UI event. It runs on the machine goroutine and
	// must not call back into the Machine synchronously.
	OnEvent func(Event)

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// turn is the single in-flight turn. Its raw capture is owned by the machine
// until StopTurn hands it to the encoder goroutine.
type turn struct {
	id      string
	gen     uint64
	role    Role
	capture audio.Capture

	ctx  context.Context
	span trace.Span

	started   time.Time
	submitted time.Time

	textDone  bool
	audioDone bool
}

// Machine is the session orchestrator. Create one with [New] and drive it
// with [Machine.Run].
type Machine struct {
	sender      Sender
	source      audio.Source
	sink        audio.Sink
	profile     Profile
	readyOnOpen bool
	onEvent     func(Event)
	metrics     *observe.Metrics

	inbox   chan func()
	stopped chan struct{}

	// Everything below is owned by the Run goroutine.
	ctx         context.Context
	status      Status
	state       State
	sessionID   string
	summary     string
	transcripts map[Role][]string
	acc         *delta.Accumulator
	turn        *turn
	gen         uint64
}

// New validates cfg and returns an idle, disconnected machine.
func New(cfg Config) (*Machine, error) {
	var errs []error
	if cfg.Sender == nil {
		errs = append(errs, errors.New("session: sender is required"))
	}
	if cfg.Source == nil {
		errs = append(errs, errors.New("session: audio source is required"))
	}
	if cfg.Sink == nil {
		errs = append(errs, errors.New("session: audio sink is required"))
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileTurn
	}
	if !cfg.Profile.IsValid() {
		errs = append(errs, fmt.Errorf("session: unknown profile %q", cfg.Profile))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.OnEvent == nil {
		cfg.OnEvent = func(Event) {}
	}
	return &Machine{
		sender:      cfg.Sender,
		source:      cfg.Source,
		sink:        cfg.Sink,
		profile:     cfg.Profile,
		readyOnOpen: cfg.ReadyOnOpen,
		onEvent:     cfg.OnEvent,
		metrics:     cfg.Metrics,
		inbox:       make(chan func(), inboxSize),
		stopped:     make(chan struct{}),
		ctx:         context.Background(),
		status:      StatusDisconnected,
		state:       StateIdle,
		transcripts: make(map[Role][]string, len(Roles)),
		acc:         delta.New(),
	}, nil
}

// Run processes commands and service events one at a time until ctx is
// cancelled. It must be called exactly once. An active capture is aborted on
// return.
func (m *Machine) Run(ctx context.Context) error {
	m.ctx = ctx
	defer close(m.stopped)
	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-m.inbox:
			fn()
		}
	}
}

// ─── Commands ─────────────────────────────────────────────────────────────────

// StartTurn opens the microphone for role. It fails with a [KindNotConnected]
// error unless the session is connected and with [ErrBusy] unless it is idle.
func (m *Machine) StartTurn(ctx context.Context, role Role) error {
	return m.call(ctx, func() error { return m.startTurn(role) })
}

// StopTurn ends the active capture and submits it in the background. The
// session waits for the response from then on.
func (m *Machine) StopTurn(ctx context.Context) error {
	return m.call(ctx, m.stopTurn)
}

// RequestSummary asks the service to summarize the conversation so far.
func (m *Machine) RequestSummary(ctx context.Context) error {
	return m.call(ctx, m.requestSummary)
}

// Snapshot returns a copy of the current session state.
func (m *Machine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := m.call(ctx, func() error {
		snap = m.snapshot()
		return nil
	})
	return snap, err
}

// ─── Transport hooks ──────────────────────────────────────────────────────────

// HandleEnvelope queues an inbound envelope. Envelopes are dispatched in the
// order this method is called.
func (m *Machine) HandleEnvelope(env protocol.Envelope) {
	m.post(func() { m.dispatch(env) })
}

// HandleTransportStatus queues a physical connection status change.
func (m *Machine) HandleTransportStatus(s transport.Status) {
	m.post(func() { m.transportStatus(s) })
}

// HandleTransportError queues a transport-level error for surfacing.
func (m *Machine) HandleTransportError(err error) {
	m.post(func() { m.surface(newError("transport", err)) })
}

// post queues fn for the Run goroutine. It is dropped once Run has returned.
func (m *Machine) post(fn func()) {
	select {
	case m.inbox <- fn:
	case <-m.stopped:
	}
}

// call runs fn on the Run goroutine and waits for its result.
func (m *Machine) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case m.inbox <- func() { reply <- fn() }:
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Transitions ──────────────────────────────────────────────────────────────

func (m *Machine) startTurn(role Role) error {
	if !role.IsValid() {
		return m.reject(role, &Error{Kind: KindProtocol, Message: fmt.Sprintf("cannot start turn for %q", role), Err: ErrUnknownRole})
	}
	if m.status != StatusConnected {
		return m.reject(role, &Error{Kind: KindNotConnected, Message: "cannot start turn", Err: ErrNotConnected})
	}
	if m.state != StateIdle {
		return m.reject(role, &Error{Kind: KindProtocol, Message: fmt.Sprintf("cannot start %s turn while %s", role, m.state), Err: ErrBusy})
	}

	capture, err := m.source.Start(m.ctx)
	if err != nil {
		e := &Error{Kind: KindDevice, Message: "start capture", Err: err}
		m.metrics.RecordTurn(m.ctx, string(role), observe.TurnAborted)
		m.surface(e)
		return e
	}

	m.gen++
	id := uuid.NewString()
	ctx, span := observe.StartSpan(m.ctx, "session.turn",
		trace.WithAttributes(
			attribute.String("turn.id", id),
			attribute.String("turn.role", string(role)),
		),
	)
	m.turn = &turn{
		id:      id,
		gen:     m.gen,
		role:    role,
		capture: capture,
		ctx:     ctx,
		span:    span,
		started: time.Now(),
	}
	m.state = StateTurnActive
	observe.Logger(ctx).Info("turn started", "turn_id", id, "role", role)
	return nil
}

func (m *Machine) stopTurn() error {
	if m.state != StateTurnActive {
		return m.reject("", &Error{Kind: KindProtocol, Message: fmt.Sprintf("cannot stop turn while %s", m.state), Err: ErrNoActiveTurn})
	}
	t := m.turn
	m.state = StateAwaitingResponse
	m.acc.Begin()
	t.span.AddEvent("capture.stopped")
	go m.encode(t.ctx, t.gen, t.capture)
	return nil
}

// encode runs off the loop. Its result re-enters as a posted event tagged
// with the turn generation so a turn aborted meanwhile is not submitted.
func (m *Machine) encode(ctx context.Context, gen uint64, capture audio.Capture) {
	start := time.Now()
	rec, err := capture.Stop()
	if err != nil {
		m.post(func() { m.encodeFailed(gen, &Error{Kind: KindDevice, Message: "stop capture", Err: err}) })
		return
	}
	buf, err := audio.EncodeRecording(rec)
	if err != nil {
		m.post(func() { m.encodeFailed(gen, &Error{Kind: KindDevice, Message: "encode " + rec.String(), Err: err}) })
		return
	}
	payload := audio.ToTransportText(buf)
	m.metrics.EncodeDuration.Record(ctx, time.Since(start).Seconds())
	observe.Logger(ctx).Debug("turn encoded", "source", rec.String(), "duration", buf.Duration(), "elapsed", time.Since(start))

	m.post(func() { m.submit(gen, payload, buf.Len()*audio.BytesPerSample) })
}

func (m *Machine) encodeFailed(gen uint64, e *Error) {
	if !m.current(gen) {
		return
	}
	m.abort(e)
}

func (m *Machine) submit(gen uint64, payload string, pcmBytes int) {
	if !m.current(gen) {
		observe.Logger(m.ctx).Debug("dropping stale turn payload", "gen", gen)
		return
	}
	t := m.turn
	if err := m.sender.Send(t.ctx, m.turnEnvelope(t.role, payload)); err != nil {
		m.abort(newError("submit turn", err))
		return
	}
	t.submitted = time.Now()
	t.span.AddEvent("turn.submitted", trace.WithAttributes(attribute.Int("pcm.bytes", pcmBytes)))
	m.metrics.RecordAudioBytes(t.ctx, observe.DirectionSent, pcmBytes)
	observe.Logger(t.ctx).Info("turn submitted", "turn_id", t.id, "role", t.role, "bytes", pcmBytes)
}

func (m *Machine) turnEnvelope(role Role, payload string) protocol.Envelope {
	if m.profile == ProfileConversation {
		return protocol.Envelope{Type: protocol.TypeBeginConversation, Audio: payload, Role: string(role)}
	}
	typ := protocol.TypePatientSpeech
	if role == RoleDoctor {
		typ = protocol.TypeDoctorSpeech
	}
	return protocol.Envelope{Type: typ, Audio: payload}
}

func (m *Machine) requestSummary() error {
	if m.status != StatusConnected {
		return m.reject("", &Error{Kind: KindNotConnected, Message: "cannot request summary", Err: ErrNotConnected})
	}
	if m.state != StateIdle {
		return m.reject("", &Error{Kind: KindProtocol, Message: fmt.Sprintf("cannot request summary while %s", m.state), Err: ErrBusy})
	}
	if !m.hasTranscripts() {
		return m.reject("", &Error{Kind: KindProtocol, Message: "cannot request summary", Err: ErrNoTranscripts})
	}
	if err := m.sender.Send(m.ctx, protocol.GetSummary()); err != nil {
		e := newError("request summary", err)
		m.surface(e)
		return e
	}
	m.state = StateSummaryRequested
	m.acc.Begin()
	slog.Info("summary requested")
	return nil
}

// reject surfaces a refused command without changing state.
func (m *Machine) reject(role Role, e *Error) error {
	if role.IsValid() {
		m.metrics.RecordTurn(m.ctx, string(role), observe.TurnRejected)
	}
	m.surface(e)
	return e
}

// ─── Service events ───────────────────────────────────────────────────────────

func (m *Machine) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSession:
		m.sessionID = env.SessionID
		slog.Info("session assigned", "session_id", env.SessionID)
	case protocol.TypeServiceReady:
		m.setStatus(StatusConnected)
	case protocol.TypeTextResponseDelta:
		m.textDelta(env)
	case protocol.TypeAudioResponseDelta:
		m.audioDelta(env)
	case protocol.TypeTextResponseDone:
		if m.state == StateSummaryRequested {
			m.completeSummaryFromText(env.Text)
			return
		}
		if !m.expectResponse(env.Type) || !m.completeText(env) {
			return
		}
		m.maybeFinish()
	case protocol.TypeAudioResponseDone:
		if !m.expectResponse(env.Type) || !m.completeAudio() {
			return
		}
		m.maybeFinish()
	case protocol.TypeResponseDone:
		m.responseDone(env)
	case protocol.TypeSummary:
		if m.state != StateSummaryRequested {
			m.violation(env.Type)
			return
		}
		m.completeSummary(env.Summary)
	case protocol.TypeActionExecuted:
		slog.Info("service action executed", "action", env.Action)
		m.emit(Event{Kind: EventNotice, Text: env.Action})
	case protocol.TypeError:
		m.remoteError(env.Message)
	default:
		slog.Debug("ignoring unknown envelope", "type", env.Type)
	}
}

func (m *Machine) textDelta(env protocol.Envelope) {
	if m.state != StateAwaitingResponse && m.state != StateSummaryRequested {
		m.violation(env.Type)
		return
	}
	if err := m.acc.Text.Append(env.Delta); err != nil {
		m.surface(newError(string(env.Type), err))
		return
	}
	m.emit(Event{Kind: EventTranslationProgress, Text: m.acc.Text.String()})
}

func (m *Machine) audioDelta(env protocol.Envelope) {
	if !m.expectResponse(env.Type) {
		return
	}
	if err := m.acc.Audio.Append(env.Delta); err != nil {
		m.surface(newError(string(env.Type), err))
	}
}

// expectResponse reports whether a turn response event is acceptable now and
// surfaces a violation otherwise.
func (m *Machine) expectResponse(typ protocol.Type) bool {
	if m.state != StateAwaitingResponse || m.turn == nil {
		m.violation(typ)
		return false
	}
	return true
}

// completeText finalizes the text stream and records the utterance. The
// envelope's text wins over the accumulated deltas when both are present.
func (m *Machine) completeText(env protocol.Envelope) bool {
	t := m.turn
	accumulated, err := m.acc.Text.Finalize()
	if err != nil {
		m.surface(newError(string(env.Type), err))
		return false
	}
	text := env.Text
	if text == "" {
		text = accumulated
	}
	role := t.role
	if r := Role(env.Role); r.IsValid() {
		role = r
	}
	if text != "" {
		m.transcripts[role] = append(m.transcripts[role], text)
	}
	t.textDone = true
	t.span.AddEvent("text.done")

	m.emit(Event{Kind: EventTranslationProgress, Text: ""})
	m.emit(Event{Kind: EventTurnCompleted, Role: role, Text: text})
	return true
}

// completeAudio finalizes the audio stream and starts playback. A payload
// that fails to decode is surfaced but still counts as completion.
func (m *Machine) completeAudio() bool {
	t := m.turn
	payload, err := m.acc.Audio.Finalize()
	if err != nil {
		m.surface(newError(string(protocol.TypeAudioResponseDone), err))
		return false
	}
	t.audioDone = true
	t.span.AddEvent("audio.done")
	if payload == "" {
		return true
	}

	buf, err := audio.FromTransportText(payload)
	if err != nil {
		m.surface(newError("decode response audio", err))
		return true
	}
	m.metrics.RecordAudioBytes(t.ctx, observe.DirectionReceived, buf.Len()*audio.BytesPerSample)
	m.emit(Event{Kind: EventAudioReady, Audio: buf})
	m.play(buf)
	return true
}

// play hands buf to the sink without waiting for it to finish.
func (m *Machine) play(buf audio.AudioBuffer) {
	ctx := m.ctx
	go func() {
		if err := m.sink.Play(ctx, buf); err != nil && ctx.Err() == nil {
			m.post(func() { m.surface(&Error{Kind: KindDevice, Message: "playback", Err: err}) })
		}
	}()
}

// responseDone handles the combined completion event, which stands in for
// whichever of the text and audio completions has not arrived yet.
func (m *Machine) responseDone(env protocol.Envelope) {
	if m.state == StateSummaryRequested {
		text := env.Summary
		if text == "" {
			text = env.Text
		}
		m.completeSummaryFromText(text)
		return
	}
	if !m.expectResponse(env.Type) {
		return
	}
	t := m.turn
	if !t.textDone && !m.completeText(env) {
		return
	}
	if !t.audioDone && !m.completeAudio() {
		return
	}
	m.maybeFinish()
}

func (m *Machine) maybeFinish() {
	t := m.turn
	if t == nil || !t.textDone || !t.audioDone {
		return
	}
	role := metric.WithAttributes(attribute.String("role", string(t.role)))
	m.metrics.TurnDuration.Record(t.ctx, time.Since(t.started).Seconds(), role)
	if !t.submitted.IsZero() {
		m.metrics.ResponseLatency.Record(t.ctx, time.Since(t.submitted).Seconds(), role)
	}
	m.metrics.RecordTurn(t.ctx, string(t.role), observe.TurnCompleted)
	observe.Logger(t.ctx).Info("turn completed", "turn_id", t.id, "role", t.role, "elapsed", time.Since(t.started))
	t.span.End()

	m.turn = nil
	m.acc.Reset()
	m.state = StateIdle
}

// completeSummaryFromText finishes a summary delivered as a text completion,
// falling back to streamed deltas when the envelope carries no text.
func (m *Machine) completeSummaryFromText(text string) {
	if text == "" {
		text = m.acc.Text.String()
	}
	m.completeSummary(text)
}

func (m *Machine) completeSummary(text string) {
	hadProgress := m.acc.Text.Len() > 0
	m.acc.Reset()
	m.state = StateIdle
	m.summary = text
	if hadProgress {
		m.emit(Event{Kind: EventTranslationProgress, Text: ""})
	}
	slog.Info("summary received", "chars", len(text))
	m.emit(Event{Kind: EventSummaryReady, Text: text})
}

func (m *Machine) remoteError(msg string) {
	if msg == "" {
		msg = "service reported an error"
	}
	e := &Error{Kind: KindRemote, Message: msg}
	if m.state == StateIdle {
		m.surface(e)
		return
	}
	m.abort(e)
}

func (m *Machine) violation(typ protocol.Type) {
	m.surface(&Error{
		Kind:    KindProtocol,
		Message: fmt.Sprintf("unexpected %s while %s", typ, m.state),
		Err:     delta.ErrProtocolViolation,
	})
}

// ─── Connection ───────────────────────────────────────────────────────────────

func (m *Machine) transportStatus(s transport.Status) {
	switch s {
	case transport.StatusConnected:
		if m.readyOnOpen {
			m.setStatus(StatusConnected)
		} else {
			m.setStatus(StatusConnecting)
		}
	case transport.StatusConnecting:
		m.setStatus(StatusConnecting)
	case transport.StatusDisconnected:
		m.sessionID = ""
		m.setStatus(StatusDisconnected)
		if m.state != StateIdle {
			m.abort(&Error{Kind: KindNotConnected, Message: "in-flight " + m.state.String() + " discarded", Err: ErrConnLost})
		}
	}
}

func (m *Machine) setStatus(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	slog.Info("connection state changed", "status", s)
	m.emit(Event{Kind: EventConnectionState, Status: s})
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// abort discards the active turn or summary request and returns to idle.
func (m *Machine) abort(e *Error) {
	hadProgress := m.acc.Text.Len() > 0
	if t := m.turn; t != nil {
		if m.state == StateTurnActive {
			t.capture.Abort()
		}
		t.span.RecordError(e)
		t.span.SetStatus(codes.Error, e.Error())
		t.span.End()
		m.metrics.RecordTurn(t.ctx, string(t.role), observe.TurnAborted)
		observe.Logger(t.ctx).Warn("turn aborted", "turn_id", t.id, "role", t.role, "state", m.state, "err", e)
	}
	m.turn = nil
	m.acc.Reset()
	m.state = StateIdle
	if hadProgress {
		m.emit(Event{Kind: EventTranslationProgress, Text: ""})
	}
	m.surface(e)
}

// surface records e and reports it to the UI.
func (m *Machine) surface(e *Error) {
	m.metrics.RecordError(m.ctx, string(e.Kind))
	slog.Warn("session error", "kind", e.Kind, "err", e)
	m.emit(Event{Kind: EventError, Err: e})
}

func (m *Machine) emit(ev Event) { m.onEvent(ev) }

// current reports whether gen still names the turn awaiting submission.
func (m *Machine) current(gen uint64) bool {
	return m.turn != nil && m.turn.gen == gen && m.state == StateAwaitingResponse
}

func (m *Machine) hasTranscripts() bool {
	for _, lines := range m.transcripts {
		if len(lines) > 0 {
			return true
		}
	}
	return false
}

func (m *Machine) snapshot() Snapshot {
	transcripts := maps.Clone(m.transcripts)
	for role, lines := range transcripts {
		transcripts[role] = slices.Clone(lines)
	}
	snap := Snapshot{
		Status:      m.status,
		State:       m.state,
		SessionID:   m.sessionID,
		Progress:    m.acc.Text.String(),
		Summary:     m.summary,
		Transcripts: transcripts,
	}
	if m.turn != nil {
		snap.Role = m.turn.role
	}
	return snap
}

func (m *Machine) shutdown() {
	if t := m.turn; t != nil {
		if m.state == StateTurnActive {
			t.capture.Abort()
		}
		t.span.End()
		m.turn = nil
	}
	m.acc.Reset()
	m.state = StateIdle
}
