package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rewired-gh/weighstation/internal/tolerance"
	"github.com/shopspring/decimal"
)

// Sentinel errors returned by Manager. None of them leaves the session in a
// changed state.
var (
	ErrNoActiveSession    = errors.New("no active weighing session")
	ErrBatchMismatch      = errors.New("batch does not match the active session")
	ErrWrongStage         = errors.New("command not valid in the current stage")
	ErrSessionActive      = errors.New("another batch already has an active session")
	ErrBatchNotInProgress = errors.New("batch is not in progress")
	ErrNoIngredients      = errors.New("recipe has no ingredients")
	ErrInvalidRecipe      = errors.New("invalid recipe")
	ErrNoNetWeight        = errors.New("net weight not recorded")
	ErrBowlsNotSelected   = errors.New("bowls not selected")
	ErrMixingBowlLocked   = errors.New("mixing bowl already holds material for this repetition")
	ErrRepetitionsDone    = errors.New("all repetitions already completed")
)

// TransferRejectedError is returned by ConfirmTransfer when scale 2 does not
// agree with the ledger within the allowed tolerance.
type TransferRejectedError struct {
	Expected  decimal.Decimal // cumulative net expected on scale 2
	Actual    decimal.Decimal // scale 2 reading minus the mixing bowl tare
	Deviation decimal.Decimal
	Allowed   decimal.Decimal
}

func (e *TransferRejectedError) Error() string {
	return fmt.Sprintf("transfer rejected: expected %s kg, scale 2 shows %s kg (deviation %s kg, allowed ±%s kg)",
		e.Expected.StringFixed(3), e.Actual.StringFixed(3), e.Deviation.StringFixed(3), e.Allowed.StringFixed(3))
}

// BowlMismatchError is returned when a bowl on the scale does not weigh what
// was recorded for it.
type BowlMismatchError struct {
	ScaleID   int
	Expected  decimal.Decimal
	Actual    decimal.Decimal
	Diff      decimal.Decimal
	Tolerance decimal.Decimal
}

func (e *BowlMismatchError) Error() string {
	return fmt.Sprintf("bowl mismatch on scale %d: expected %s kg, measured %s kg (diff %s kg, tolerance %s kg)",
		e.ScaleID, e.Expected.StringFixed(3), e.Actual.StringFixed(3), e.Diff.StringFixed(3), e.Tolerance.StringFixed(3))
}

// NetOutOfBandError is returned by ReadyToTransfer when the net weight is
// under or over the ingredient band.
type NetOutOfBandError struct {
	Net   decimal.Decimal
	Min   decimal.Decimal
	Max   decimal.Decimal
	Class tolerance.StatusClass
}

func (e *NetOutOfBandError) Error() string {
	return fmt.Sprintf("net weight %s kg is %s: allowed [%s, %s] kg",
		e.Net.StringFixed(3), strings.ReplaceAll(string(e.Class), "_", " "), e.Min.StringFixed(3), e.Max.StringFixed(3))
}
