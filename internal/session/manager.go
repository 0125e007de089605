package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/weighstation/internal/logger"
	"github.com/rewired-gh/weighstation/internal/models"
	"github.com/rewired-gh/weighstation/internal/tolerance"
	"github.com/shopspring/decimal"
)

// Result says what a confirmed transfer completed.
type Result string

const (
	IngredientDone     Result = "ingredient_done"
	RepetitionComplete Result = "repetition_complete"
	BatchComplete      Result = "batch_complete"
)

// Outcome is returned by a successful ConfirmTransfer.
type Outcome struct {
	Result  Result
	Entry   models.TransferredIngredient
	Report  *CumulativeReport // set when a repetition finished
	Session *Session          // nil once the batch is complete
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier registers a milestone notifier.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithTransferTolerance overrides the scale 2 transfer tolerance.
func WithTransferTolerance(t tolerance.Transfer) Option {
	return func(m *Manager) {
		m.transfer = t
	}
}

// WithBowlTolerance overrides the bowl verification tolerance.
func WithBowlTolerance(tol decimal.Decimal) Option {
	return func(m *Manager) {
		m.bowlTolerance = tol
	}
}

// WithOutOfBandTransfers lets ReadyToTransfer accept a net weight outside
// the ingredient band. Such transfers are recorded as out of tolerance.
func WithOutOfBandTransfers(allow bool) Option {
	return func(m *Manager) {
		m.allowOutOfBand = allow
	}
}

// WithOperator sets the name recorded as batch completer and record operator.
func WithOperator(name string) Option {
	return func(m *Manager) {
		m.operator = name
	}
}

// WithLedger shares a ledger between managers.
func WithLedger(l *Ledger) Option {
	return func(m *Manager) {
		m.ledger = l
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns the single active session. All commands are serialized.
type Manager struct {
	recipes  RecipeSource
	batches  BatchSource
	reports  ReportSink
	notifier Notifier

	transfer       tolerance.Transfer
	bowlTolerance  decimal.Decimal
	allowOutOfBand bool
	operator       string
	ledger         *Ledger
	now            func() time.Time

	mu     sync.Mutex
	active *Session
}

// NewManager creates a Manager with no active session.
func NewManager(recipes RecipeSource, batches BatchSource, reports ReportSink, opts ...Option) *Manager {
	m := &Manager{
		recipes:       recipes,
		batches:       batches,
		reports:       reports,
		transfer:      tolerance.DefaultTransfer,
		bowlTolerance: tolerance.DefaultBowlTolerance,
		operator:      "Operator",
		ledger:        NewLedger(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ledger returns the transfer ledger.
func (m *Manager) Ledger() *Ledger {
	return m.ledger
}

// Active returns a copy of the active session.
func (m *Manager) Active() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Session{}, false
	}
	return m.active.clone(), true
}

// StartSession opens a session for an in-progress batch. Starting the batch
// that is already active returns the active session.
func (m *Manager) StartSession(ctx context.Context, batchID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		if m.active.BatchID == batchID {
			return m.active.clone(), nil
		}
		return Session{}, fmt.Errorf("%w: %s", ErrSessionActive, m.active.BatchID)
	}

	batch, err := m.batches.GetBatch(ctx, batchID)
	if err != nil {
		return Session{}, fmt.Errorf("getting batch: %w", err)
	}
	if batch.Status != models.BatchInProgress {
		return Session{}, fmt.Errorf("%w: %s is %s", ErrBatchNotInProgress, batchID, batch.Status)
	}
	if batch.CompletedRepetitions >= batch.TotalRepetitions {
		return Session{}, ErrRepetitionsDone
	}

	ingredients, err := m.recipes.GetIngredients(ctx, batch.RecipeID)
	if err != nil {
		return Session{}, fmt.Errorf("getting ingredients: %w", err)
	}
	ingredients, err = orderIngredients(ingredients)
	if err != nil {
		return Session{}, err
	}

	now := m.now()
	recordID, err := m.reports.StartRecord(ctx, RecordHeader{
		BatchID:              batch.ID,
		RecipeID:             batch.RecipeID,
		RecipeName:           batch.RecipeName,
		Operator:             m.operator,
		TotalRepetitions:     batch.TotalRepetitions,
		CompletedRepetitions: batch.CompletedRepetitions,
		StartedAt:            now,
	})
	if err != nil {
		return Session{}, fmt.Errorf("starting weighing record: %w", err)
	}

	m.active = &Session{
		BatchID:          batch.ID,
		RecordID:         recordID,
		RecipeID:         batch.RecipeID,
		RecipeName:       batch.RecipeName,
		Operator:         m.operator,
		Ingredients:      ingredients,
		Repetition:       batch.CompletedRepetitions + 1,
		TotalRepetitions: batch.TotalRepetitions,
		Stage:            StagePlaceBowls,
		LastScale2:       decimal.Zero,
		StartedAt:        now,
	}
	logger.Info("Started weighing session for batch %s (%s): repetition %d/%d, %d ingredients",
		batch.ID, batch.RecipeName, m.active.Repetition, batch.TotalRepetitions, len(ingredients))
	return m.active.clone(), nil
}

// orderIngredients sorts by sequence and checks the list is contiguous from 1.
func orderIngredients(in []models.RecipeIngredient) ([]models.RecipeIngredient, error) {
	if len(in) == 0 {
		return nil, ErrNoIngredients
	}
	out := make([]models.RecipeIngredient, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })

	for i := range out {
		if err := out[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecipe, err)
		}
		if out[i].Sequence != i+1 {
			return nil, fmt.Errorf("%w: expected sequence %d, got %d", ErrInvalidRecipe, i+1, out[i].Sequence)
		}
	}
	return out, nil
}

// lookup returns the active session for batchID. Callers hold m.mu.
func (m *Manager) lookup(batchID string) (*Session, error) {
	if m.active == nil {
		return nil, ErrNoActiveSession
	}
	if m.active.BatchID != batchID {
		return nil, fmt.Errorf("%w: active %s, got %s", ErrBatchMismatch, m.active.BatchID, batchID)
	}
	return m.active, nil
}

func requireStage(s *Session, want Stage) error {
	if s.Stage != want {
		return fmt.Errorf("%w: in %s, need %s", ErrWrongStage, s.Stage, want)
	}
	return nil
}

// SelectBowls records the bowls placed on both scales. Once the repetition's
// first transfer is confirmed the mixing bowl cannot change.
func (m *Manager) SelectBowls(batchID, ingredientBowlCode string, ingredientBowlWeight decimal.Decimal, mixingBowlCode string, mixingBowlWeight decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(batchID)
	if err != nil {
		return err
	}
	if err := requireStage(s, StagePlaceBowls); err != nil {
		return err
	}
	if ingredientBowlCode == "" || mixingBowlCode == "" {
		return fmt.Errorf("%w: bowl code must not be empty", ErrBowlsNotSelected)
	}
	if len(s.confirmed) > 0 && mixingBowlCode != s.MixingBowl.Code {
		return fmt.Errorf("%w: %s", ErrMixingBowlLocked, s.MixingBowl.Code)
	}

	s.IngredientBowl = Bowl{Code: ingredientBowlCode, Weight: ingredientBowlWeight, Selected: true}
	if len(s.confirmed) == 0 {
		s.MixingBowl = Bowl{Code: mixingBowlCode, Weight: mixingBowlWeight, Selected: true}
	}
	logger.Debug("Batch %s: bowls selected (ingredient %s %s kg, mixing %s)",
		batchID, ingredientBowlCode, ingredientBowlWeight.StringFixed(3), s.MixingBowl.Code)
	return nil
}

// VerifyBowlWeight compares a measured bowl against its recorded tare.
func (m *Manager) VerifyBowlWeight(actual, recorded decimal.Decimal) error {
	return m.verifyBowl(0, actual, recorded)
}

func (m *Manager) verifyBowl(scaleID int, actual, recorded decimal.Decimal) error {
	ok, diff := tolerance.VerifyBowlWeight(actual, recorded, m.bowlTolerance)
	if ok {
		return nil
	}
	return &BowlMismatchError{
		ScaleID:   scaleID,
		Expected:  recorded,
		Actual:    actual,
		Diff:      diff,
		Tolerance: m.bowlTolerance,
	}
}

// VerifyPlacedBowls checks the live scale readings against the selected bowls.
// The mixing bowl is only checked while it is still empty.
func (m *Manager) VerifyPlacedBowls(batchID string, scale1, scale2 decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(batchID)
	if err != nil {
		return err
	}
	if !s.IngredientBowl.Selected || !s.MixingBowl.Selected {
		return ErrBowlsNotSelected
	}
	if err := m.verifyBowl(models.Scale1, scale1, s.IngredientBowl.Weight); err != nil {
		return err
	}
	if len(s.confirmed) == 0 {
		return m.verifyBowl(models.Scale2, scale2, s.MixingBowl.Weight)
	}
	return nil
}

// RecordBowlWeights accepts the tares and moves to weighing. The mixing tare
// is fixed at the repetition's first ingredient.
func (m *Manager) RecordBowlWeights(batchID string, ingredientBowlWeight, mixingBowlWeight decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(batchID)
	if err != nil {
		return err
	}
	if err := requireStage(s, StagePlaceBowls); err != nil {
		return err
	}
	if !s.IngredientBowl.Selected || !s.MixingBowl.Selected {
		return ErrBowlsNotSelected
	}

	s.IngredientBowl.Weight = ingredientBowlWeight
	if len(s.confirmed) == 0 {
		s.MixingBowl.Weight = mixingBowlWeight
		s.MixingTare = decimal.NewNullDecimal(mixingBowlWeight)
		s.LastScale2 = mixingBowlWeight
	}
	s.NetWeight = decimal.NullDecimal{}
	s.Stage = StageWeighIngredient

	ing := s.Current()
	logger.Info("Batch %s rep %d: weighing %s (%s), target %s kg [%s, %s]",
		batchID, s.Repetition, ing.IngredientCode, ing.IngredientName,
		ing.TargetWeight.StringFixed(3), ing.MinWeight().StringFixed(3), ing.MaxWeight().StringFixed(3))
	return nil
}

// CurrentIngredient returns the ingredient being weighed.
func (m *Manager) CurrentIngredient() (models.RecipeIngredient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return models.RecipeIngredient{}, ErrNoActiveSession
	}
	return m.active.Current(), nil
}

// NetWeight subtracts the selected ingredient bowl from a scale 1 reading.
func (m *Manager) NetWeight(scale1 decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return decimal.Zero, ErrNoActiveSession
	}
	if !m.active.IngredientBowl.Selected {
		return decimal.Zero, ErrBowlsNotSelected
	}
	return scale1.Sub(m.active.IngredientBowl.Weight), nil
}

// IngredientStatus classifies a net weight against the current ingredient.
func (m *Manager) IngredientStatus(net decimal.Decimal) (tolerance.Status, error) {
	ing, err := m.CurrentIngredient()
	if err != nil {
		return tolerance.Status{}, err
	}
	return tolerance.IngredientStatus(net, ing.Band()), nil
}

// Approach grades a live net weight against the current ingredient.
func (m *Manager) Approach(net decimal.Decimal) (tolerance.Approach, error) {
	ing, err := m.CurrentIngredient()
	if err != nil {
		return tolerance.Approach{}, err
	}
	return tolerance.ApproachStatus(net, ing.Band()), nil
}

// ReadyToTransfer records the net weight the operator settled on. It may be
// called again to replace the value. A net weight outside the ingredient band
// is rejected unless out-of-band transfers are allowed.
func (m *Manager) ReadyToTransfer(batchID string, net decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(batchID)
	if err != nil {
		return err
	}
	if err := requireStage(s, StageWeighIngredient); err != nil {
		return err
	}
	if !m.allowOutOfBand {
		band := s.Current().Band()
		if st := tolerance.IngredientStatus(net, band); !st.CanComplete {
			return &NetOutOfBandError{Net: net, Min: band.Min, Max: band.Max, Class: st.Class}
		}
	}
	s.NetWeight = decimal.NewNullDecimal(net)
	logger.Debug("Batch %s: %s ready to transfer at %s kg", batchID, s.Current().IngredientCode, net.StringFixed(3))
	return nil
}

// ConfirmTransfer verifies the scale 2 reading against the cumulative net of
// the repetition and, when it agrees, commits a ledger entry and advances.
// A rejection changes nothing and may be retried.
func (m *Manager) ConfirmTransfer(ctx context.Context, batchID string, scale2 decimal.Decimal) (Outcome, error) {
	out, ev, err := m.confirmTransfer(ctx, batchID, scale2)
	if ev != nil {
		m.notify(ctx, *ev)
	}
	return out, err
}

// confirmTransfer commits under the session lock. The returned event is
// delivered by the caller once the lock is released.
func (m *Manager) confirmTransfer(ctx context.Context, batchID string, scale2 decimal.Decimal) (Outcome, *Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(batchID)
	if err != nil {
		return Outcome{}, nil, err
	}
	if err := requireStage(s, StageWeighIngredient); err != nil {
		return Outcome{}, nil, err
	}
	if !s.NetWeight.Valid {
		return Outcome{}, nil, ErrNoNetWeight
	}
	if !s.MixingTare.Valid {
		return Outcome{}, nil, ErrBowlsNotSelected
	}

	net := s.NetWeight.Decimal
	expected := s.confirmedNet().Add(net)
	actual := scale2.Sub(s.MixingTare.Decimal)
	deviation := actual.Sub(expected)
	allowed := m.transfer.Allowed(len(s.confirmed))

	if deviation.Abs().GreaterThan(allowed) {
		logger.Warn("Batch %s rep %d: transfer of %s rejected (expected %s, actual %s, allowed ±%s)",
			batchID, s.Repetition, s.Current().IngredientCode,
			expected.StringFixed(3), actual.StringFixed(3), allowed.StringFixed(3))
		return Outcome{}, nil, &TransferRejectedError{
			Expected:  expected,
			Actual:    actual,
			Deviation: deviation,
			Allowed:   allowed,
		}
	}

	ing := s.Current()
	band := ing.Band()
	entry := models.TransferredIngredient{
		RecordID:          s.RecordID,
		BatchID:           s.BatchID,
		RepetitionNumber:  s.Repetition,
		Sequence:          ing.Sequence,
		IngredientID:      ing.IngredientID,
		IngredientCode:    ing.IngredientCode,
		IngredientName:    ing.IngredientName,
		TargetWeight:      ing.TargetWeight,
		ActualNetWeight:   net,
		Scale2Before:      s.LastScale2,
		Scale2After:       scale2,
		TransferDeviation: deviation,
		MinWeight:         band.Min,
		MaxWeight:         band.Max,
		ToleranceValue:    band.Value,
		BowlCode:          s.IngredientBowl.Code,
		BowlSize:          ing.BowlSize,
		ScaleNumber:       ing.ScaleNumber,
		Unit:              ing.Unit,
		Timestamp:         m.now(),
	}

	if err := m.reports.RecordTransfer(ctx, s.RecordID, models.DetailFromTransfer(s.RecordID, entry)); err != nil {
		return Outcome{}, nil, fmt.Errorf("recording transfer: %w", err)
	}

	m.ledger.append(entry)
	s.confirmed = append(s.confirmed, entry)
	s.Index++
	s.LastScale2 = scale2
	s.NetWeight = decimal.NullDecimal{}

	logger.Info("Batch %s rep %d: confirmed %s net %s kg (scale 2 deviation %s kg)",
		batchID, s.Repetition, entry.IngredientCode, net.StringFixed(3), deviation.StringFixed(3))

	if s.Index < len(s.Ingredients) {
		s.IngredientBowl = Bowl{}
		s.Stage = StagePlaceBowls
		snap := s.clone()
		return Outcome{Result: IngredientDone, Entry: entry, Session: &snap}, nil, nil
	}

	report := BuildReport(s.BatchID, s.Repetition, s.confirmed)
	completed := s.Repetition
	if err := m.batches.AdvanceRepetition(ctx, s.BatchID, completed); err != nil {
		logger.Error("Failed to advance batch %s to %d repetitions: %v", s.BatchID, completed, err)
	}

	if completed >= s.TotalRepetitions {
		if err := m.batches.CompleteBatch(ctx, s.BatchID, s.Operator); err != nil {
			logger.Error("Failed to complete batch %s: %v", s.BatchID, err)
		}
		m.finalize(ctx, s, Finalization{
			Status:               models.RecordCompleted,
			CompletedRepetitions: completed,
			Actor:                s.Operator,
		})
		ev := &Event{
			Kind:             EventBatchCompleted,
			BatchID:          s.BatchID,
			RecipeName:       s.RecipeName,
			Repetition:       completed,
			TotalRepetitions: s.TotalRepetitions,
			Actor:            s.Operator,
			Report:           &report,
		}
		logger.Info("Batch %s complete after %d repetitions", s.BatchID, completed)
		m.active = nil
		return Outcome{Result: BatchComplete, Entry: entry, Report: &report}, ev, nil
	}

	ev := &Event{
		Kind:             EventRepetitionCompleted,
		BatchID:          s.BatchID,
		RecipeName:       s.RecipeName,
		Repetition:       completed,
		TotalRepetitions: s.TotalRepetitions,
		Actor:            s.Operator,
		Report:           &report,
	}
	s.Repetition++
	s.resetRepetition()
	logger.Info("Batch %s: repetition %d/%d complete", s.BatchID, completed, s.TotalRepetitions)
	snap := s.clone()
	return Outcome{Result: RepetitionComplete, Entry: entry, Report: &report, Session: &snap}, ev, nil
}

// AbortSession aborts the batch and clears the session. Confirmed transfers
// stay in the ledger. If the batch cannot be aborted the session is kept.
func (m *Manager) AbortSession(ctx context.Context, batchID, reason, actor string) error {
	ev, err := m.abortSession(ctx, batchID, reason, actor)
	if ev != nil {
		m.notify(ctx, *ev)
	}
	return err
}

func (m *Manager) abortSession(ctx context.Context, batchID, reason, actor string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(batchID)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = s.Operator
	}
	if err := m.batches.AbortBatch(ctx, batchID, actor, reason); err != nil {
		return nil, fmt.Errorf("aborting batch: %w", err)
	}

	m.finalize(ctx, s, Finalization{
		Status:               models.RecordAborted,
		CompletedRepetitions: s.Repetition - 1,
		Reason:               reason,
		Actor:                actor,
	})
	report := BuildReport(s.BatchID, s.Repetition, s.confirmed)
	logger.Warn("Batch %s aborted by %s: %s", batchID, actor, reason)
	m.active = nil
	return &Event{
		Kind:             EventBatchAborted,
		BatchID:          s.BatchID,
		RecipeName:       s.RecipeName,
		Repetition:       s.Repetition,
		TotalRepetitions: s.TotalRepetitions,
		Actor:            actor,
		Reason:           reason,
		Report:           &report,
	}, nil
}

// Pause drops the in-memory session without touching the batch and closes
// its weighing record as paused. Transfers of the unfinished repetition are
// superseded: a later StartSession restarts that repetition from its first
// ingredient.
func (m *Manager) Pause(ctx context.Context, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(batchID)
	if err != nil {
		return err
	}
	if len(s.confirmed) > 0 {
		m.ledger.supersede(s.RecordID, s.Repetition)
		logger.Warn("Batch %s paused with %d transfers in repetition %d; the repetition restarts on resume",
			batchID, len(s.confirmed), s.Repetition)
	}
	m.finalize(ctx, s, Finalization{
		Status:               models.RecordPaused,
		CompletedRepetitions: s.Repetition - 1,
		Actor:                s.Operator,
	})
	m.active = nil
	logger.Info("Batch %s paused", batchID)
	return nil
}

// CumulativeToleranceReport summarises the current repetition.
func (m *Manager) CumulativeToleranceReport() (CumulativeReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return CumulativeReport{}, ErrNoActiveSession
	}
	return BuildReport(m.active.BatchID, m.active.Repetition, m.active.confirmed), nil
}

// Transfers returns ledger entries for a batch; repetition 0 returns all.
func (m *Manager) Transfers(batchID string, repetition int) []models.TransferredIngredient {
	return m.ledger.Entries(batchID, repetition)
}

func (m *Manager) finalize(ctx context.Context, s *Session, fin Finalization) {
	fin.EndedAt = m.now()
	if err := m.reports.FinalizeRecord(ctx, s.RecordID, fin); err != nil {
		logger.Error("Failed to finalize weighing record %s: %v", s.RecordID, err)
	}
}

func (m *Manager) notify(ctx context.Context, ev Event) {
	if m.notifier == nil {
		return
	}
	ev.At = m.now()
	if err := m.notifier.Notify(ctx, ev); err != nil {
		logger.Warn("Failed to send %s notification: %v", ev.Kind, err)
	}
}

// IsRejection reports whether err is a verification or sequencing rejection
// rather than a collaborator failure.
func IsRejection(err error) bool {
	var tr *TransferRejectedError
	var bm *BowlMismatchError
	var ob *NetOutOfBandError
	switch {
	case errors.As(err, &tr), errors.As(err, &bm), errors.As(err, &ob):
		return true
	case errors.Is(err, ErrNoActiveSession), errors.Is(err, ErrBatchMismatch),
		errors.Is(err, ErrWrongStage), errors.Is(err, ErrNoNetWeight),
		errors.Is(err, ErrBowlsNotSelected), errors.Is(err, ErrMixingBowlLocked),
		errors.Is(err, ErrSessionActive):
		return true
	}
	return false
}
