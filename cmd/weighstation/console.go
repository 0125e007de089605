package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rewired-gh/weighstation/internal/acquisition"
	"github.com/rewired-gh/weighstation/internal/logger"
	"github.com/rewired-gh/weighstation/internal/models"
	"github.com/rewired-gh/weighstation/internal/session"
	"github.com/shopspring/decimal"
)

var errQuit = errors.New("quit")

var sessionCommands = map[string]bool{
	"bowls": true, "verify": true, "record": true, "net": true, "ready": true, "confirm": true,
	"report": true, "history": true, "status": true, "pause": true, "abort": true,
}

type weightSource interface {
	Latest() acquisition.Snapshot
}

type scaleTarer interface {
	Tare(ctx context.Context, scaleID int) error
}

type batchStore interface {
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	StartBatch(ctx context.Context, id, startedBy string) error
	ListBatches(ctx context.Context, status models.BatchStatus) ([]*models.Batch, error)
}

// console is the line-oriented operator terminal. Every weight it passes to
// the session comes from the latest acquisition snapshot.
type console struct {
	mgr      *session.Manager
	weights  weightSource
	tarer    scaleTarer
	batches  batchStore
	operator string
	out      io.Writer

	batchID string
}

func newConsole(mgr *session.Manager, weights weightSource, tarer scaleTarer, batches batchStore, operator string, out io.Writer) *console {
	return &console{
		mgr:      mgr,
		weights:  weights,
		tarer:    tarer,
		batches:  batches,
		operator: operator,
		out:      out,
	}
}

// Run reads commands from in until EOF, quit, or ctx is cancelled.
func (c *console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	c.printf("Weigh station ready. Type 'help' for commands.\n")
	for {
		c.printf("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		err := c.exec(ctx, strings.ToLower(fields[0]), fields[1:])
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil && session.IsRejection(err):
			c.printf("rejected: %v\n", err)
		case err != nil:
			logger.Error("Command %s failed: %v", fields[0], err)
			c.printf("error: %v\n", err)
		}
	}
}

func (c *console) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help":
		c.help()
		return nil
	case "quit", "exit":
		return errQuit
	case "batches":
		return c.listBatches(ctx)
	case "start":
		if len(args) != 1 {
			return fmt.Errorf("usage: start <batch-id>")
		}
		return c.start(ctx, args[0])
	case "weights":
		c.showWeights()
		return nil
	case "tare":
		if len(args) != 1 {
			return fmt.Errorf("usage: tare <1|2>")
		}
		id, err := strconv.Atoi(args[0])
		if err != nil || !models.ValidScaleID(id) {
			return fmt.Errorf("scale must be 1 or 2")
		}
		if err := c.tarer.Tare(ctx, id); err != nil {
			return err
		}
		c.printf("scale %d tared\n", id)
		return nil
	}

	if !sessionCommands[cmd] {
		return fmt.Errorf("unknown command %q", cmd)
	}
	if c.batchID == "" {
		return session.ErrNoActiveSession
	}

	switch cmd {
	case "bowls":
		return c.selectBowls(args)
	case "verify":
		return c.verifyBowls()
	case "record":
		return c.recordBowls()
	case "net":
		return c.showNet()
	case "ready":
		return c.ready(args)
	case "confirm":
		return c.confirm(ctx)
	case "report":
		r, err := c.mgr.CumulativeToleranceReport()
		if err != nil {
			return err
		}
		c.printReport(r)
		return nil
	case "history":
		c.history()
		return nil
	case "status":
		c.printf("%s\n", sessionStatus(c.mgr))
		return nil
	case "pause":
		if err := c.mgr.Pause(ctx, c.batchID); err != nil {
			return err
		}
		c.printf("batch %s paused\n", c.batchID)
		c.batchID = ""
		return nil
	case "abort":
		reason := strings.Join(args, " ")
		if reason == "" {
			return fmt.Errorf("usage: abort <reason>")
		}
		if err := c.mgr.AbortSession(ctx, c.batchID, reason, c.operator); err != nil {
			return err
		}
		c.printf("batch %s aborted\n", c.batchID)
		c.batchID = ""
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *console) help() {
	c.printf(`Commands:
  batches                          list pending and in-progress batches
  start <batch>                    start or resume a batch
  weights                          show live scale readings
  tare <1|2>                       tare a scale on the PLC
  bowls <code> <kg> <code> <kg>    select ingredient and mixing bowls
  verify                           check placed bowls against their tares
  record                           record bowl tares from the scales
  net                              show net weight and guidance
  ready [kg]                       accept the net weight for transfer
  confirm                          verify the transfer on scale 2
  report                           cumulative report for this repetition
  history                          confirmed transfers for this batch
  status                           session status
  pause                            leave the batch for later
  abort <reason>                   abort the batch
  quit
`)
}

func (c *console) listBatches(ctx context.Context) error {
	for _, st := range []models.BatchStatus{models.BatchInProgress, models.BatchPending} {
		list, err := c.batches.ListBatches(ctx, st)
		if err != nil {
			return err
		}
		for _, b := range list {
			c.printf("%-12s %-10s %s  %d/%d\n", b.ID, b.Status, b.RecipeName, b.CompletedRepetitions, b.TotalRepetitions)
		}
	}
	return nil
}

func (c *console) start(ctx context.Context, batchID string) error {
	b, err := c.batches.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status == models.BatchPending {
		if err := c.batches.StartBatch(ctx, batchID, c.operator); err != nil {
			return err
		}
	}
	s, err := c.mgr.StartSession(ctx, batchID)
	if err != nil {
		return err
	}
	c.batchID = s.BatchID
	c.printf("batch %s (%s): repetition %d/%d, %d ingredients\n",
		s.BatchID, s.RecipeName, s.Repetition, s.TotalRepetitions, len(s.Ingredients))
	c.printIngredient(s.Current())
	return nil
}

// reading returns a live weight. Verification requires a stable reading.
func (c *console) reading(scaleID int, requireStable bool) (decimal.Decimal, error) {
	r := c.weights.Latest().Reading(scaleID)
	if !r.Available {
		return decimal.Zero, fmt.Errorf("scale %d has no reading", scaleID)
	}
	if requireStable && !r.Stable {
		return decimal.Zero, fmt.Errorf("scale %d is not stable yet", scaleID)
	}
	return r.WeightKg, nil
}

func (c *console) showWeights() {
	snap := c.weights.Latest()
	for _, id := range []int{models.Scale1, models.Scale2} {
		r := snap.Reading(id)
		switch {
		case !r.Available:
			c.printf("scale %d: unavailable\n", id)
		case r.Stable:
			c.printf("scale %d: %s kg (stable)\n", id, r.WeightKg.StringFixed(3))
		default:
			c.printf("scale %d: %s kg\n", id, r.WeightKg.StringFixed(3))
		}
	}
}

func (c *console) selectBowls(args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: bowls <ingredient-bowl> <kg> <mixing-bowl> <kg>")
	}
	ingKg, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("ingredient bowl weight: %w", err)
	}
	mixKg, err := decimal.NewFromString(args[3])
	if err != nil {
		return fmt.Errorf("mixing bowl weight: %w", err)
	}
	if err := c.mgr.SelectBowls(c.batchID, args[0], ingKg, args[2], mixKg); err != nil {
		return err
	}
	c.printf("bowls selected\n")
	return nil
}

func (c *console) verifyBowls() error {
	w1, err := c.reading(models.Scale1, true)
	if err != nil {
		return err
	}
	w2, err := c.reading(models.Scale2, true)
	if err != nil {
		return err
	}
	if err := c.mgr.VerifyPlacedBowls(c.batchID, w1, w2); err != nil {
		return err
	}
	c.printf("bowls verified\n")
	return nil
}

func (c *console) recordBowls() error {
	w1, err := c.reading(models.Scale1, true)
	if err != nil {
		return err
	}
	w2, err := c.reading(models.Scale2, true)
	if err != nil {
		return err
	}
	if err := c.mgr.RecordBowlWeights(c.batchID, w1, w2); err != nil {
		return err
	}
	ing, err := c.mgr.CurrentIngredient()
	if err != nil {
		return err
	}
	c.printf("tares recorded; weigh now\n")
	c.printIngredient(ing)
	return nil
}

func (c *console) liveNet() (decimal.Decimal, error) {
	w1, err := c.reading(models.Scale1, false)
	if err != nil {
		return decimal.Zero, err
	}
	return c.mgr.NetWeight(w1)
}

func (c *console) showNet() error {
	net, err := c.liveNet()
	if err != nil {
		return err
	}
	a, err := c.mgr.Approach(net)
	if err != nil {
		return err
	}
	c.printf("net %s kg [%s] %s\n", net.StringFixed(3), a.Zone, a.Message)
	return nil
}

func (c *console) ready(args []string) error {
	var net decimal.Decimal
	var err error
	if len(args) == 1 {
		net, err = decimal.NewFromString(args[0])
		if err != nil {
			return fmt.Errorf("net weight: %w", err)
		}
	} else {
		w1, rerr := c.reading(models.Scale1, true)
		if rerr != nil {
			return rerr
		}
		if net, err = c.mgr.NetWeight(w1); err != nil {
			return err
		}
	}
	st, err := c.mgr.IngredientStatus(net)
	if err != nil {
		return err
	}
	if err := c.mgr.ReadyToTransfer(c.batchID, net); err != nil {
		return err
	}
	if !st.CanComplete {
		c.printf("warning: %s\n", st.Message)
	}
	c.printf("net %s kg accepted; transfer to the mixing bowl and confirm\n", net.StringFixed(3))
	return nil
}

func (c *console) confirm(ctx context.Context) error {
	w2, err := c.reading(models.Scale2, true)
	if err != nil {
		return err
	}
	out, err := c.mgr.ConfirmTransfer(ctx, c.batchID, w2)
	if err != nil {
		return err
	}
	c.printf("confirmed %s: %s kg\n", out.Entry.IngredientCode, out.Entry.ActualNetWeight.StringFixed(3))

	switch out.Result {
	case session.IngredientDone:
		c.printIngredient(out.Session.Current())
	case session.RepetitionComplete:
		c.printReport(*out.Report)
		c.printf("repetition done; starting repetition %d/%d\n", out.Session.Repetition, out.Session.TotalRepetitions)
		c.printIngredient(out.Session.Current())
	case session.BatchComplete:
		c.printReport(*out.Report)
		c.printf("batch %s complete\n", c.batchID)
		c.batchID = ""
	}
	return nil
}

func (c *console) history() {
	for _, t := range c.mgr.Transfers(c.batchID, 0) {
		mark := "ok"
		if !t.IsWithinTolerance() {
			mark = "OUT"
		}
		c.printf("rep %d #%d %-12s %s / %s kg  %s\n", t.RepetitionNumber, t.Sequence, t.IngredientCode,
			t.ActualNetWeight.StringFixed(3), t.TargetWeight.StringFixed(3), mark)
	}
}

// sessionStatus summarises the active session in one line.
func sessionStatus(mgr *session.Manager) string {
	s, ok := mgr.Active()
	if !ok {
		return "No active session"
	}
	return fmt.Sprintf("Batch %s (%s): repetition %d/%d, ingredient %d/%d %s, stage %s",
		s.BatchID, s.RecipeName, s.Repetition, s.TotalRepetitions,
		s.Index+1, len(s.Ingredients), s.Current().IngredientCode, s.Stage)
}

func (c *console) printIngredient(ing models.RecipeIngredient) {
	c.printf("next: #%d %s (%s) target %s kg [%s, %s]\n", ing.Sequence, ing.IngredientCode, ing.IngredientName,
		ing.TargetWeight.StringFixed(3), ing.MinWeight().StringFixed(3), ing.MaxWeight().StringFixed(3))
}

func (c *console) printReport(r session.CumulativeReport) {
	if r.Empty {
		c.printf("no transfers in repetition %d\n", r.Repetition)
		return
	}
	c.printf("repetition %d report:\n", r.Repetition)
	for _, l := range r.Lines {
		mark := "ok"
		if !l.WithinTolerance {
			mark = "OUT"
		}
		c.printf("  #%d %-12s %s / %s kg  %s%%  %s\n", l.Sequence, l.IngredientCode,
			l.Actual.StringFixed(3), l.Target.StringFixed(3), l.DeviationPercent.StringFixed(2), mark)
	}
	c.printf("  total %s / %s kg (%s%%), %d within, %d out\n",
		r.TotalActual.StringFixed(3), r.TotalTarget.StringFixed(3),
		r.OverallDeviationPercent.StringFixed(2), r.WithinCount, r.OutOfToleranceCount)
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
