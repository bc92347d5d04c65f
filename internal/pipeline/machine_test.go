package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/locflow/locflow/internal/fault"
	"github.com/locflow/locflow/internal/lifecycle"
	"github.com/locflow/locflow/internal/locales"
	"github.com/locflow/locflow/internal/manifest"
	"github.com/locflow/locflow/internal/provider"
	"github.com/locflow/locflow/internal/store"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	work     store.Store
	content  store.Store
	provider *provider.Mock
	machine  *Machine
	sessions *SessionStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := locales.NewRegistry("en", []string{"ru", "zh"})
	require.NoError(t, err)

	f := &fixture{
		work:     store.NewDir(t.TempDir()),
		content:  store.NewDir(t.TempDir()),
		provider: provider.NewMock(),
	}
	builder := manifest.NewBuilder(f.work, f.content, reg, "gpt-4o-mini", nil)
	manager := lifecycle.NewManager(f.work, f.provider, nil)
	f.sessions = NewSessionStore(f.work)
	f.machine = NewMachine(f.work, f.content, builder, manager, f.sessions, nil)
	return f
}

func (f *fixture) writeSource(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, f.content.Write("en/"+path, []byte(content)))
}

func (f *fixture) createSession(t *testing.T, mode Mode) *Session {
	t.Helper()
	sess, err := f.machine.CreateSession(CreateSessionOptions{
		Repository:    "acme/docs",
		SourceLocale:  "en",
		TargetLocales: []string{"ru"},
		Mode:          mode,
	})
	require.NoError(t, err)
	return sess
}

// outputFor builds a synthetic provider output file answering every record
// in the batch.
func (f *fixture) outputFor(t *testing.T, batchID string, text func(manifest.RequestRecord) string) []byte {
	t.Helper()
	man, err := manifest.Load(f.work, batchID)
	require.NoError(t, err)

	var sb strings.Builder
	for _, rec := range man.Files {
		body := map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": text(rec)}}},
		}
		line, err := json.Marshal(map[string]any{
			"custom_id": rec.CustomID,
			"response":  map[string]any{"status_code": 200, "body": body},
		})
		require.NoError(t, err)
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t, ModeManual)

	require.True(t, sess.StepCompleted(StepUploaded))
	require.False(t, sess.Step(StepUploaded).Timestamp.IsZero())
	require.Equal(t, StepUploaded, sess.CurrentStep())

	loaded, err := f.sessions.Load(sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess.ID, loaded.ID)
	require.True(t, loaded.StepCompleted(StepUploaded))
}

func TestCreateSession_BadMode(t *testing.T) {
	f := newFixture(t)
	_, err := f.machine.CreateSession(CreateSessionOptions{SourceLocale: "en", Mode: "turbo"})
	require.True(t, fault.IsKind(err, fault.Validation))
}

func TestCompleteStep_OutOfOrder(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t, ModeManual)

	_, err := f.machine.CompleteStep(sess.ID, StepSubmitted, StepPayload{})
	require.True(t, fault.IsKind(err, fault.InvalidState))

	// The persisted step map is untouched.
	loaded, err := f.sessions.Load(sess.ID)
	require.NoError(t, err)
	require.False(t, loaded.StepCompleted(StepSubmitted))
	require.True(t, loaded.StepCompleted(StepUploaded))
	require.Len(t, loaded.Steps, 1)
}

func TestCompleteStep_RecordsPayload(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t, ModeManual)

	updated, err := f.machine.CompleteStep(sess.ID, StepBatchCreated, StepPayload{BatchID: "b-1"})
	require.NoError(t, err)
	require.True(t, updated.StepCompleted(StepBatchCreated))
	require.Equal(t, "b-1", updated.Step(StepBatchCreated).BatchID)
	require.Equal(t, []string{"b-1"}, updated.BatchIDs)
}

func TestAddError_PreservesProgress(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t, ModeManual)

	updated, err := f.machine.AddError(sess.ID, StepBatchCreated, "provider unavailable")
	require.NoError(t, err)
	require.Len(t, updated.Errors, 1)
	require.Equal(t, StepBatchCreated, updated.Errors[0].Step)
	require.Equal(t, "provider unavailable", updated.Errors[0].Message)
	require.True(t, updated.StepCompleted(StepUploaded), "errors never roll back completed steps")

	updated, err = f.machine.AddError(sess.ID, StepBatchCreated, "still down")
	require.NoError(t, err)
	require.Len(t, updated.Errors, 2, "error log is append-only")
}

func TestProcess_Manual(t *testing.T) {
	f := newFixture(t)
	f.writeSource(t, "content/intro.md", "# Intro")
	sess := f.createSession(t, ModeManual)

	updated, err := f.machine.Process(context.Background(), sess.ID, ProcessOptions{})
	require.NoError(t, err)
	require.True(t, updated.StepCompleted(StepBatchCreated))
	require.False(t, updated.StepCompleted(StepSubmitted), "manual mode performs one step per call")
	require.Len(t, updated.BatchIDs, 1)

	man, err := manifest.Load(f.work, updated.ActiveBatchID())
	require.NoError(t, err)
	require.Equal(t, manifest.StatusDraft, man.Status)
	require.Equal(t, sess.ID, man.SessionID)
}

func TestProcess_Auto(t *testing.T) {
	f := newFixture(t)
	f.writeSource(t, "content/intro.md", "# Intro")
	sess := f.createSession(t, ModeAuto)

	updated, err := f.machine.Process(context.Background(), sess.ID, ProcessOptions{})
	require.NoError(t, err)
	require.True(t, updated.StepCompleted(StepBatchCreated))
	require.True(t, updated.StepCompleted(StepSubmitted))
	require.Equal(t, "batch-1", updated.Step(StepSubmitted).ProviderBatchID)
	require.Empty(t, updated.Errors)
}

func TestProcess_Rerun(t *testing.T) {
	f := newFixture(t)
	f.writeSource(t, "content/intro.md", "# Intro")
	sess := f.createSession(t, ModeManual)

	_, err := f.machine.Process(context.Background(), sess.ID, ProcessOptions{})
	require.NoError(t, err)
	_, err = f.machine.Process(context.Background(), sess.ID, ProcessOptions{})
	require.True(t, fault.IsKind(err, fault.InvalidState))
}

type failingUploadProvider struct {
	*provider.Mock
}

func (p *failingUploadProvider) UploadBatchInput(ctx context.Context, name string, data []byte) (string, error) {
	return "", fault.New(fault.Provider, "upload rejected")
}

func TestProcess_AutoHaltsOnProviderError(t *testing.T) {
	f := newFixture(t)
	f.writeSource(t, "content/intro.md", "# Intro")

	// Rebuild the machine over a provider whose upload always fails.
	reg, err := locales.NewRegistry("en", []string{"ru"})
	require.NoError(t, err)
	builder := manifest.NewBuilder(f.work, f.content, reg, "gpt-4o-mini", nil)
	manager := lifecycle.NewManager(f.work, &failingUploadProvider{f.provider}, nil)
	machine := NewMachine(f.work, f.content, builder, manager, f.sessions, nil)

	sess, err := machine.CreateSession(CreateSessionOptions{
		SourceLocale: "en", TargetLocales: []string{"ru"}, Mode: ModeAuto,
	})
	require.NoError(t, err)

	// The failure is recorded, not raised.
	updated, err := machine.Process(context.Background(), sess.ID, ProcessOptions{})
	require.NoError(t, err)
	require.True(t, updated.StepCompleted(StepBatchCreated))
	require.False(t, updated.StepCompleted(StepSubmitted))
	require.Len(t, updated.Errors, 1)
	require.Equal(t, StepSubmitted, updated.Errors[0].Step)
	require.Contains(t, updated.Errors[0].Message, "upload rejected")
}

func TestSync_Completed(t *testing.T) {
	f := newFixture(t)
	f.writeSource(t, "content/intro.md", "# Intro")
	sess := f.createSession(t, ModeAuto)

	updated, err := f.machine.Process(context.Background(), sess.ID, ProcessOptions{})
	require.NoError(t, err)

	output := f.outputFor(t, updated.ActiveBatchID(), func(rec manifest.RequestRecord) string {
		return "# Введение"
	})
	f.provider.FileContents["out-1"] = output
	f.provider.SetBatchStatus("batch-1", "completed", "out-1", "")

	synced, err := f.machine.Sync(context.Background(), sess.ID)
	require.NoError(t, err)
	require.True(t, synced.StepCompleted(StepProcessing))
	require.Equal(t, 100, synced.Step(StepProcessing).Progress)
	require.True(t, synced.StepCompleted(StepCompleted))
	require.Equal(t, 1, synced.Step(StepCompleted).TranslationCount)

	translated, err := f.content.Read("ru/content/intro.md")
	require.NoError(t, err)
	require.Equal(t, "# Введение", string(translated))
}

func TestSync_NotSubmitted(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t, ModeManual)
	_, err := f.machine.Sync(context.Background(), sess.ID)
	require.True(t, fault.IsKind(err, fault.InvalidState))
}

func TestSync_FailedBatch(t *testing.T) {
	f := newFixture(t)
	f.writeSource(t, "content/intro.md", "# Intro")
	sess := f.createSession(t, ModeAuto)

	_, err := f.machine.Process(context.Background(), sess.ID, ProcessOptions{})
	require.NoError(t, err)
	f.provider.SetBatchStatus("batch-1", "failed", "", "err-1")

	synced, err := f.machine.Sync(context.Background(), sess.ID)
	require.NoError(t, err)
	require.False(t, synced.StepCompleted(StepCompleted))
	require.Len(t, synced.Errors, 1)
	require.Contains(t, synced.Errors[0].Message, "failed")
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	f.writeSource(t, "content/intro.md", "# Intro")
	sess := f.createSession(t, ModeAuto)

	// Finalize before completion is rejected.
	_, err := f.machine.Finalize(sess.ID, 42, "https://example.com/pr/42")
	require.True(t, fault.IsKind(err, fault.InvalidState))

	_, err = f.machine.Process(context.Background(), sess.ID, ProcessOptions{})
	require.NoError(t, err)

	loaded, err := f.sessions.Load(sess.ID)
	require.NoError(t, err)
	out := f.outputFor(t, loaded.ActiveBatchID(), func(rec manifest.RequestRecord) string { return "# Ок" })
	f.provider.FileContents["out-1"] = out
	f.provider.SetBatchStatus("batch-1", "completed", "out-1", "")
	_, err = f.machine.Sync(context.Background(), sess.ID)
	require.NoError(t, err)

	final, err := f.machine.Finalize(sess.ID, 42, "https://example.com/pr/42")
	require.NoError(t, err)
	require.True(t, final.StepCompleted(StepPRCreated))
	require.Equal(t, 42, final.Step(StepPRCreated).PRNumber)
	require.Equal(t, "https://example.com/pr/42", final.Step(StepPRCreated).PRURL)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	f.writeSource(t, "content/intro.md", "# Intro")
	sess := f.createSession(t, ModeManual)

	updated, err := f.machine.Process(context.Background(), sess.ID, ProcessOptions{})
	require.NoError(t, err)
	batchID := updated.ActiveBatchID()
	require.True(t, f.work.Exists(manifest.ManifestPath(batchID)))

	require.NoError(t, f.machine.DeleteSession(sess.ID))
	require.False(t, f.work.Exists(manifest.ManifestPath(batchID)), "owned batches go with the session")
	_, err = f.sessions.Load(sess.ID)
	require.True(t, fault.IsKind(err, fault.NotFound))
}

func TestSessionStoreList(t *testing.T) {
	f := newFixture(t)
	first := f.createSession(t, ModeManual)
	second := f.createSession(t, ModeAuto)

	all, err := f.sessions.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	ids := []string{all[0].ID, all[1].ID}
	require.Contains(t, ids, first.ID)
	require.Contains(t, ids, second.ID)
}

func TestIncremental_DeltaBatchAndMergeBack(t *testing.T) {
	f := newFixture(t)

	// Snapshot holds the previously committed source; the live source has
	// one changed key, one new key, and one removed key.
	snapshot := `{"nav":{"home":"Home","blog":"Blog"},"title":"Site"}`
	current := `{"nav":{"home":"Start","docs":"Docs"},"title":"Site"}`
	require.NoError(t, f.work.Write("snapshots/en/global/nav.json", []byte(snapshot)))
	f.writeSource(t, "global/nav.json", current)

	// Existing translation from the previous run.
	existing := `{"nav":{"home":"Главная","blog":"Блог"},"title":"Сайт"}`
	require.NoError(t, f.content.Write("ru/global/nav.json", []byte(existing)))

	sess, err := f.machine.CreateSession(CreateSessionOptions{
		SourceLocale: "en", TargetLocales: []string{"ru"}, Mode: ModeAuto, Incremental: true,
	})
	require.NoError(t, err)

	updated, err := f.machine.Process(context.Background(), sess.ID, ProcessOptions{})
	require.NoError(t, err)

	// The request carries only the changed keys, not the whole document.
	reqData, err := f.work.Read(manifest.RequestFilePath(updated.ActiveBatchID()))
	require.NoError(t, err)
	lines, err := manifest.DecodeRequestLines(reqData)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	user := lines[0].Body.Messages[len(lines[0].Body.Messages)-1].Content
	require.Contains(t, user, "Start")
	require.Contains(t, user, "Docs")
	require.NotContains(t, user, `"Site"`, "unchanged keys stay out of the request")

	// Provider answers with the translated partial wrapped per the JSON
	// prompt contract.
	out := f.outputFor(t, updated.ActiveBatchID(), func(rec manifest.RequestRecord) string {
		return `{"translation":{"nav":{"home":"Старт","docs":"Документация"}}}`
	})
	f.provider.FileContents["out-1"] = out
	f.provider.SetBatchStatus("batch-1", "completed", "out-1", "")

	_, err = f.machine.Sync(context.Background(), sess.ID)
	require.NoError(t, err)

	merged, err := f.content.Read("ru/global/nav.json")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(merged, &doc))
	nav := doc["nav"].(map[string]any)
	require.Equal(t, "Старт", nav["home"], "changed key is replaced")
	require.Equal(t, "Документация", nav["docs"], "added key is merged in")
	require.NotContains(t, nav, "blog", "deleted key is removed from the translation")
	require.Equal(t, "Сайт", doc["title"], "untouched keys keep their existing translation")

	// The snapshot now reflects the current source.
	snap, err := f.work.Read("snapshots/en/global/nav.json")
	require.NoError(t, err)
	require.JSONEq(t, current, string(snap))
}

func TestIncremental_NothingChanged(t *testing.T) {
	f := newFixture(t)
	doc := `{"title":"Site"}`
	require.NoError(t, f.work.Write("snapshots/en/global/nav.json", []byte(doc)))
	f.writeSource(t, "global/nav.json", doc)

	sess, err := f.machine.CreateSession(CreateSessionOptions{
		SourceLocale: "en", TargetLocales: []string{"ru"}, Mode: ModeManual, Incremental: true,
	})
	require.NoError(t, err)

	_, err = f.machine.Process(context.Background(), sess.ID, ProcessOptions{})
	require.True(t, fault.IsKind(err, fault.Validation))
	require.Contains(t, err.Error(), "no source files changed")
}

func TestHappyPathScenario(t *testing.T) {
	f := newFixture(t)
	f.writeSource(t, "content/guide.md", "# Guide")

	sess, err := f.machine.CreateSession(CreateSessionOptions{
		SourceLocale: "en", TargetLocales: []string{"ru", "zh"}, Mode: ModeAuto,
	})
	require.NoError(t, err)

	updated, err := f.machine.Process(context.Background(), sess.ID, ProcessOptions{})
	require.NoError(t, err)

	man, err := manifest.Load(f.work, updated.ActiveBatchID())
	require.NoError(t, err)
	require.Len(t, man.Files, 2, "1 file x 2 locales")

	out := f.outputFor(t, man.BatchID, func(rec manifest.RequestRecord) string {
		return fmt.Sprintf("# Guide (%s)", rec.TargetLocale)
	})
	f.provider.FileContents["out-1"] = out
	f.provider.SetBatchStatus("batch-1", "completed", "out-1", "")

	synced, err := f.machine.Sync(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, 2, synced.Step(StepCompleted).TranslationCount)

	for _, locale := range []string{"ru", "zh"} {
		data, err := f.content.Read(locale + "/content/guide.md")
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("# Guide (%s)", locale), string(data))
	}
}
