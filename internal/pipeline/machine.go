package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/locflow/locflow/internal/delta"
	"github.com/locflow/locflow/internal/fault"
	"github.com/locflow/locflow/internal/lifecycle"
	"github.com/locflow/locflow/internal/manifest"
	"github.com/locflow/locflow/internal/matcher"
	"github.com/locflow/locflow/internal/store"
)

// Machine drives sessions through the step order. Different sessions are
// independent and may be driven concurrently without coordination; steps
// within one session are strictly ordered.
type Machine struct {
	work      store.Store
	content   store.Store
	builder   *manifest.Builder
	lifecycle *lifecycle.Manager
	sessions  *SessionStore
	matcher   *matcher.Processor
	logger    *slog.Logger
}

func NewMachine(work, content store.Store, b *manifest.Builder, lm *lifecycle.Manager, sessions *SessionStore, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		work:      work,
		content:   content,
		builder:   b,
		lifecycle: lm,
		sessions:  sessions,
		matcher:   matcher.NewProcessor(logger),
		logger:    logger,
	}
}

// CreateSessionOptions shapes a new session.
type CreateSessionOptions struct {
	Repository    string
	SourceLocale  string
	TargetLocales []string
	Mode          Mode
	Incremental   bool
}

// CreateSession registers a new session with its upload already recorded
// as the first completed step.
func (m *Machine) CreateSession(opts CreateSessionOptions) (*Session, error) {
	if opts.Mode != ModeAuto && opts.Mode != ModeManual {
		return nil, fault.New(fault.Validation, "unknown automation mode %q", opts.Mode)
	}
	if opts.SourceLocale == "" {
		return nil, fault.New(fault.Validation, "source locale is required")
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:            NewSessionID(),
		Repository:    opts.Repository,
		SourceLocale:  opts.SourceLocale,
		TargetLocales: opts.TargetLocales,
		Mode:          opts.Mode,
		Incremental:   opts.Incremental,
		CreatedAt:     now,
	}
	st := sess.Step(StepUploaded)
	st.Completed = true
	st.Timestamp = now

	if err := m.sessions.Save(sess); err != nil {
		return nil, err
	}
	m.logger.Info("session created", "sessionId", sess.ID, "mode", sess.Mode, "incremental", sess.Incremental)
	return sess, nil
}

// StepPayload carries the step-specific fields recorded on completion.
// Zero-valued fields are ignored.
type StepPayload struct {
	BatchID          string
	ProviderBatchID  string
	Progress         int
	TranslationCount int
	PRNumber         int
	PRURL            string
}

// CompleteStep marks one step complete. Marking a step whose predecessor
// is not yet complete is a caller error: it fails with an InvalidState
// fault and the persisted session is left unmodified.
func (m *Machine) CompleteStep(sessionID string, step Step, p StepPayload) (*Session, error) {
	sess, err := m.sessions.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if !step.Valid() {
		return nil, fault.New(fault.Validation, "unknown step %q", step)
	}
	if pred, ok := step.predecessor(); ok && !sess.StepCompleted(pred) {
		return nil, fault.New(fault.InvalidState,
			"cannot complete step %s before %s on session %s", step, pred, sessionID)
	}

	m.applyStep(sess, step, p)
	if err := m.sessions.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (m *Machine) applyStep(sess *Session, step Step, p StepPayload) {
	st := sess.Step(step)
	st.Completed = true
	st.Timestamp = time.Now().UTC()
	if p.BatchID != "" {
		st.BatchID = p.BatchID
	}
	if p.ProviderBatchID != "" {
		st.ProviderBatchID = p.ProviderBatchID
	}
	if p.Progress != 0 {
		st.Progress = p.Progress
	}
	if p.TranslationCount != 0 {
		st.TranslationCount = p.TranslationCount
	}
	if p.PRNumber != 0 {
		st.PRNumber = p.PRNumber
	}
	if p.PRURL != "" {
		st.PRURL = p.PRURL
	}
	if step == StepBatchCreated && p.BatchID != "" {
		sess.BatchIDs = append(sess.BatchIDs, p.BatchID)
	}
}

// AddError appends to the session's error log. Previously completed steps
// are never rolled back, so the session stays resumable from its last
// good step.
func (m *Machine) AddError(sessionID string, step Step, message string) (*Session, error) {
	sess, err := m.sessions.Load(sessionID)
	if err != nil {
		return nil, err
	}
	m.appendError(sess, step, message)
	if err := m.sessions.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (m *Machine) appendError(sess *Session, step Step, message string) {
	sess.Errors = append(sess.Errors, ErrorEntry{
		Step:      step,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	sess.Step(step).Error = message
	m.logger.Warn("session error recorded", "sessionId", sess.ID, "step", step, "error", message)
}

// ProcessOptions filters the batch built by Process.
type ProcessOptions struct {
	Categories   []string
	IncludeFiles []string
	Model        string
}

// Process advances a freshly uploaded session: it builds the batch, and in
// auto mode also submits it, recording a provider failure on the session
// and halting rather than propagating it. Manual-mode sessions perform
// exactly one step per call. A session already past uploaded cannot be
// processed again.
func (m *Machine) Process(ctx context.Context, sessionID string, opts ProcessOptions) (*Session, error) {
	sess, err := m.sessions.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.StepCompleted(StepBatchCreated) {
		return nil, fault.New(fault.InvalidState,
			"session %s is already past %s (current step %s)", sessionID, StepUploaded, sess.CurrentStep())
	}

	var files []manifest.SourceFile
	if sess.Incremental {
		files, err = m.buildDeltaFiles(sess)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fault.New(fault.Validation, "no source files changed since the last snapshot")
		}
	}

	man, err := m.builder.CreateBatch(sess.ID, manifest.CreateBatchOptions{
		SourceLocale:  sess.SourceLocale,
		TargetLocales: sess.TargetLocales,
		IncludeFiles:  opts.IncludeFiles,
		Categories:    opts.Categories,
		Model:         opts.Model,
		Files:         files,
	})
	if err != nil {
		return nil, err
	}

	m.applyStep(sess, StepBatchCreated, StepPayload{BatchID: man.BatchID})
	if err := m.sessions.Save(sess); err != nil {
		return nil, err
	}

	if sess.Mode != ModeAuto {
		return sess, nil
	}

	submitted, err := m.lifecycle.Submit(ctx, man.BatchID)
	if err != nil {
		// The pipeline halts here with the failure on record; the batch
		// stays draft and the session resumes with an explicit submit.
		m.appendError(sess, StepSubmitted, err.Error())
		if saveErr := m.sessions.Save(sess); saveErr != nil {
			return nil, saveErr
		}
		return sess, nil
	}

	m.applyStep(sess, StepSubmitted, StepPayload{ProviderBatchID: submitted.Provider.ProviderBatchID})
	if err := m.sessions.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Submit performs the submit step for a manual-mode session.
func (m *Machine) Submit(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := m.sessions.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.StepCompleted(StepBatchCreated) {
		return nil, fault.New(fault.InvalidState, "session %s has no batch to submit", sessionID)
	}
	if sess.StepCompleted(StepSubmitted) {
		return nil, fault.New(fault.InvalidState, "session %s is already submitted", sessionID)
	}

	submitted, err := m.lifecycle.Submit(ctx, sess.ActiveBatchID())
	if err != nil {
		m.appendError(sess, StepSubmitted, err.Error())
		if saveErr := m.sessions.Save(sess); saveErr != nil {
			return nil, saveErr
		}
		return sess, err
	}

	m.applyStep(sess, StepSubmitted, StepPayload{ProviderBatchID: submitted.Provider.ProviderBatchID})
	if err := m.sessions.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Sync polls the provider for the session's active batch and advances the
// processing/completed steps accordingly. On completion it downloads the
// output, matches it against the manifest, and writes the translated
// files into the target locale trees.
func (m *Machine) Sync(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := m.sessions.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.StepCompleted(StepSubmitted) {
		return nil, fault.New(fault.InvalidState, "session %s has not been submitted", sessionID)
	}
	if sess.StepCompleted(StepCompleted) {
		return sess, nil
	}

	batchID := sess.ActiveBatchID()
	report, err := m.lifecycle.CheckStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}

	switch report.Status {
	case "completed":
		count, err := m.collectResults(ctx, sess, batchID)
		if err != nil {
			return nil, err
		}
		m.applyStep(sess, StepProcessing, StepPayload{Progress: 100})
		m.applyStep(sess, StepCompleted, StepPayload{TranslationCount: count})
	case "failed", "expired", "cancelled":
		m.appendError(sess, StepProcessing,
			fmt.Sprintf("provider batch %s ended as %s", report.ProviderBatchID, report.Status))
	default:
		// Still running; record progress without completing the step.
		st := sess.Step(StepProcessing)
		st.Timestamp = time.Now().UTC()
		if report.RequestCounts != nil && report.RequestCounts.Total > 0 {
			st.Progress = int(report.RequestCounts.Completed * 100 / report.RequestCounts.Total)
		}
	}

	if err := m.sessions.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// collectResults downloads and matches the batch output, writes every
// successful translation, and records an aggregate error entry when some
// records failed.
func (m *Machine) collectResults(ctx context.Context, sess *Session, batchID string) (int, error) {
	raw, err := m.lifecycle.DownloadResults(ctx, batchID)
	if err != nil {
		return 0, err
	}
	man, err := manifest.Load(m.work, batchID)
	if err != nil {
		return 0, err
	}

	results := m.matcher.Process(man, raw)
	written := 0
	failed := 0
	for _, r := range results {
		if r.Status != matcher.StatusSuccess {
			failed++
			continue
		}
		if err := m.writeTranslation(sess, r); err != nil {
			m.logger.Warn("writing translation failed",
				"sessionId", sess.ID, "customId", r.CustomID, "error", err)
			failed++
			continue
		}
		written++
	}

	if failed > 0 {
		m.appendError(sess, StepProcessing,
			fmt.Sprintf("%d of %d records failed; retry with the batch error file", failed, len(results)))
	}
	m.logger.Info("batch results collected",
		"sessionId", sess.ID, "batchId", batchID, "written", written, "failed", failed)
	return written, nil
}

func (m *Machine) writeTranslation(sess *Session, r matcher.ProcessedTranslation) error {
	target := r.TargetLocale + "/" + r.Path

	if r.Kind != manifest.KindJSON {
		return m.content.Write(target, []byte(r.Text))
	}

	doc, _ := matcher.UnwrapTranslation(r.Text)
	if sess.Incremental {
		if merged, ok, err := m.mergeIncremental(sess, r, doc); err != nil {
			return err
		} else if ok {
			doc = merged
		}
	}

	var pretty any
	if err := json.Unmarshal(doc, &pretty); err != nil {
		return fault.Wrap(fault.MalformedRecord, err, "translated JSON for %s is unparsable", r.Path)
	}
	data, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	if err := m.content.Write(target, data); err != nil {
		return err
	}
	if sess.Incremental {
		return m.refreshSnapshot(sess, r.Path)
	}
	return nil
}

// mergeIncremental folds a translated partial document into the existing
// translated file, applying the deleted paths recorded when the delta
// batch was built. Returns ok=false when there is no stored delta or no
// existing translation to merge into.
func (m *Machine) mergeIncremental(sess *Session, r matcher.ProcessedTranslation, partial json.RawMessage) (json.RawMessage, bool, error) {
	deltaData, err := m.work.Read(deltaPath(sess.ID, r.Path))
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var d delta.Delta
	if err := json.Unmarshal(deltaData, &d); err != nil {
		return nil, false, fmt.Errorf("parsing stored delta for %s: %w", r.Path, err)
	}

	existingData, err := m.content.Read(r.TargetLocale + "/" + r.Path)
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var existing, changed map[string]any
	if err := json.Unmarshal(existingData, &existing); err != nil {
		return nil, false, fmt.Errorf("parsing existing translation %s: %w", r.Path, err)
	}
	if err := json.Unmarshal(partial, &changed); err != nil {
		return nil, false, fault.Wrap(fault.MalformedRecord, err, "translated partial for %s is not an object", r.Path)
	}

	merged := delta.Merge(existing, delta.Delta{Modified: changed, Deleted: d.Deleted})
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Finalize records the pull-request step. Valid only once the session has
// completed translation.
func (m *Machine) Finalize(sessionID string, prNumber int, prURL string) (*Session, error) {
	sess, err := m.sessions.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.StepCompleted(StepCompleted) {
		return nil, fault.New(fault.InvalidState,
			"session %s cannot be finalized before translation completes", sessionID)
	}

	m.applyStep(sess, StepPRCreated, StepPayload{PRNumber: prNumber, PRURL: prURL})
	if err := m.sessions.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteSession removes the session and every batch it owns.
func (m *Machine) DeleteSession(sessionID string) error {
	sess, err := m.sessions.Load(sessionID)
	if err != nil {
		return err
	}
	for _, batchID := range sess.BatchIDs {
		if err := m.work.Remove(manifest.BatchDir(batchID)); err != nil {
			return err
		}
	}
	if err := m.work.Remove(deltaDir(sess.ID)); err != nil {
		return err
	}
	return m.sessions.Delete(sessionID)
}
