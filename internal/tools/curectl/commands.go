package curectl

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cureline/internal/core"
	"cureline/pkg/domain"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"seed":     {"create missing departments and a default curing cycle", runSeed},
	"unit":     {"unit create|list|show|override", runUnit},
	"event":    {"record a production event", runEvent},
	"location": {"show where a unit currently is", runLocation},
	"history":  {"list a unit's events and department dwell times", runHistory},
	"transfer": {"route completed units to the next department", runTransfer},
	"batch":    {"batch create|add|remove|advance|delete|show|list", runBatch},
	"plan":     {"plan [apply] autoclave loads from eligible units", runPlan},
	"sessions": {"sessions purge", runSessions},
	"watch":    {"print status notifications from NATS", runWatch},
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

func runSeed(ctx context.Context, a *app, args []string) error {
	fs := a.flags("seed")
	code := fs.String("cycle", "C-180", "default curing cycle code")
	temp := fs.Float64("temp", 180, "phase 1 temperature in C")
	pressure := fs.Float64("pressure", 6, "phase 1 pressure in bar")
	duration := fs.Duration("duration", 2*time.Hour, "phase 1 duration")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	existing, err := a.svc.ListDepartments(ctx)
	if err != nil {
		return err
	}
	have := make(map[domain.DepartmentType]bool, len(existing))
	for _, d := range existing {
		have[d.Type] = have[d.Type] || d.Active
	}
	type seedResult struct {
		Departments []domain.Department `json:"departments"`
		Cycle       *domain.CuringCycle `json:"curing_cycle,omitempty"`
	}
	var out seedResult
	for _, dt := range domain.DepartmentSequence() {
		if have[dt] {
			continue
		}
		d, err := a.svc.CreateDepartment(ctx, domain.Department{Name: string(dt) + " 1", Type: dt, Active: true}, a.actor)
		if err != nil {
			return err
		}
		out.Departments = append(out.Departments, d)
	}

	cycles, err := a.svc.ListCuringCycles(ctx)
	if err != nil {
		return err
	}
	for _, c := range cycles {
		if c.Code == *code {
			return a.print(out)
		}
	}
	cycle, err := a.svc.CreateCuringCycle(ctx, domain.CuringCycle{
		Code:   *code,
		Name:   *code,
		Phase1: domain.CurePhase{TemperatureC: *temp, PressureBar: *pressure, Duration: *duration},
	}, a.actor)
	if err != nil {
		return err
	}
	out.Cycle = &cycle
	return a.print(out)
}

func runUnit(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return usageErr("unit needs a subcommand: create, list, show or override")
	}
	switch args[0] {
	case "create":
		fs := a.flags("unit create")
		number := fs.String("number", "", "unit (work order) number")
		quantity := fs.Int("quantity", 1, "part quantity")
		priority := fs.String("priority", "NORMAL", "LOW, NORMAL, HIGH or URGENT")
		cycle := fs.String("cycle", "", "default curing cycle id or code")
		if err := parseFlags(fs, args[1:]); err != nil {
			return err
		}
		p, err := domain.ParsePriority(*priority)
		if err != nil {
			return err
		}
		cycleID, err := a.resolveCycle(ctx, *cycle)
		if err != nil {
			return err
		}
		unit, err := a.svc.CreateUnit(ctx, core.UnitRequest{Number: *number, Quantity: *quantity, Priority: p, CuringCycleID: cycleID}, a.actor)
		if err != nil {
			return err
		}
		return a.print(unit)
	case "list":
		units, err := a.svc.ListUnits(ctx)
		if err != nil {
			return err
		}
		return a.print(units)
	case "show":
		if len(args) != 2 {
			return usageErr("unit show <unit>")
		}
		unit, err := a.resolveUnit(ctx, args[1])
		if err != nil {
			return err
		}
		return a.print(unit)
	case "override":
		if len(args) < 2 || len(args) > 3 {
			return usageErr("unit override <unit> [cycle]")
		}
		unit, err := a.resolveUnit(ctx, args[1])
		if err != nil {
			return err
		}
		var cycleID string
		if len(args) == 3 {
			if cycleID, err = a.resolveCycle(ctx, args[2]); err != nil {
				return err
			}
		}
		updated, err := a.svc.SetCuringCycleOverride(ctx, unit.ID, cycleID, a.actor)
		if err != nil {
			return err
		}
		return a.print(updated)
	default:
		return usageErr("unknown unit subcommand %q", args[0])
	}
}

func runEvent(ctx context.Context, a *app, args []string) error {
	fs := a.flags("event")
	unitRef := fs.String("unit", "", "unit id or number")
	deptRef := fs.String("dept", "", "department id or type")
	kindRaw := fs.String("kind", "", "ASSIGNED, ENTRY, EXIT, PAUSE, RESUME or NOTE")
	note := fs.String("note", "", "free text note")
	confirm := fs.Bool("confirm", false, "flag the event as requiring confirmation")
	noTransfer := fs.Bool("no-transfer", false, "stay at <dept>_COMPLETED after EXIT")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	kind, err := domain.ParseEventKind(*kindRaw)
	if err != nil {
		return err
	}
	unit, err := a.resolveUnit(ctx, *unitRef)
	if err != nil {
		return err
	}
	deptID, err := a.resolveDepartment(ctx, *deptRef)
	if err != nil {
		return err
	}
	res, err := a.svc.CreateEvent(ctx, unit.ID, deptID, kind, a.actor, core.EventOptions{
		Note:                 *note,
		RequiresConfirmation: *confirm,
		SkipAutoTransfer:     *noTransfer,
	})
	if err != nil {
		return err
	}
	return a.print(res)
}

func runLocation(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return usageErr("location <unit>")
	}
	unit, err := a.resolveUnit(ctx, args[0])
	if err != nil {
		return err
	}
	loc, inside, err := a.svc.CurrentLocation(ctx, unit.ID)
	if err != nil {
		return err
	}
	out := struct {
		UnitID   string           `json:"unit_id"`
		Status   domain.Status    `json:"status"`
		Inside   bool             `json:"inside"`
		Location *domain.Location `json:"location,omitempty"`
	}{UnitID: unit.ID, Status: unit.Status, Inside: inside}
	if inside {
		out.Location = &loc
	}
	return a.print(out)
}

func runHistory(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return usageErr("history <unit>")
	}
	unit, err := a.resolveUnit(ctx, args[0])
	if err != nil {
		return err
	}
	events, err := a.svc.History(ctx, unit.ID)
	if err != nil {
		return err
	}
	durations, err := a.svc.DepartmentDurations(ctx, unit.ID)
	if err != nil {
		return err
	}
	dwell := make(map[string]string, len(durations))
	for dept, d := range durations {
		dwell[dept] = d.String()
	}
	return a.print(struct {
		Unit   domain.ProductionUnit    `json:"unit"`
		Events []domain.ProductionEvent `json:"events"`
		Dwell  map[string]string        `json:"dwell"`
	}{Unit: unit, Events: events, Dwell: dwell})
}

func runTransfer(ctx context.Context, a *app, args []string) error {
	fs := a.flags("transfer")
	deptRef := fs.String("dept", "", "department the units just completed (id or type)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return usageErr("transfer -dept <dept> <unit>...")
	}
	deptID, err := a.resolveDepartment(ctx, *deptRef)
	if err != nil {
		return err
	}
	unitIDs, err := a.resolveUnits(ctx, fs.Args())
	if err != nil {
		return err
	}
	if len(unitIDs) == 1 {
		res, err := a.svc.ExecuteAutoTransfer(ctx, unitIDs[0], deptID, a.actor)
		if err != nil {
			return err
		}
		return a.print(res)
	}
	results, err := a.svc.TransferBatch(ctx, unitIDs, deptID, a.actor)
	if err != nil {
		return err
	}
	return a.print(results)
}

func runBatch(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return usageErr("batch needs a subcommand: create, add, remove, advance, delete, show or list")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "create":
		fs := a.flags("batch create")
		resource := fs.String("resource", "", "autoclave resource id")
		cycle := fs.String("cycle", "", "curing cycle id or code")
		start := fs.String("start", "", "planned start (RFC 3339)")
		end := fs.String("end", "", "planned end (RFC 3339)")
		if err := parseFlags(fs, rest); err != nil {
			return err
		}
		cycleID, err := a.resolveCycle(ctx, *cycle)
		if err != nil {
			return err
		}
		plannedStart, plannedEnd, err := parseWindow(*start, *end)
		if err != nil {
			return err
		}
		unitIDs, err := a.resolveUnits(ctx, fs.Args())
		if err != nil {
			return err
		}
		details, err := a.svc.CreateBatch(ctx, core.BatchRequest{
			ResourceID:    *resource,
			CuringCycleID: cycleID,
			PlannedStart:  plannedStart,
			PlannedEnd:    plannedEnd,
			UnitIDs:       unitIDs,
		}, a.actor)
		if err != nil {
			return err
		}
		return a.print(details)
	case "add", "remove":
		if len(rest) != 2 {
			return usageErr("batch %s <batch> <unit>", sub)
		}
		batchID, err := a.resolveBatch(ctx, rest[0])
		if err != nil {
			return err
		}
		unit, err := a.resolveUnit(ctx, rest[1])
		if err != nil {
			return err
		}
		if sub == "add" {
			item, err := a.svc.AddUnitToBatch(ctx, batchID, unit.ID, a.actor)
			if err != nil {
				return err
			}
			return a.print(item)
		}
		restored, err := a.svc.RemoveUnitFromBatch(ctx, batchID, unit.ID, a.actor)
		if err != nil {
			return err
		}
		return a.print(restored)
	case "advance":
		if len(rest) != 2 {
			return usageErr("batch advance <batch> <status>")
		}
		batchID, err := a.resolveBatch(ctx, rest[0])
		if err != nil {
			return err
		}
		target, err := domain.ParseBatchStatus(rest[1])
		if err != nil {
			return err
		}
		res, err := a.svc.AdvanceBatch(ctx, batchID, target, a.actor)
		if err != nil {
			return err
		}
		return a.print(res)
	case "delete":
		if len(rest) != 1 {
			return usageErr("batch delete <batch>")
		}
		batchID, err := a.resolveBatch(ctx, rest[0])
		if err != nil {
			return err
		}
		if err := a.svc.DeleteBatch(ctx, batchID, a.actor); err != nil {
			return err
		}
		return a.print(map[string]string{"deleted": batchID})
	case "show":
		if len(rest) != 1 {
			return usageErr("batch show <batch>")
		}
		batchID, err := a.resolveBatch(ctx, rest[0])
		if err != nil {
			return err
		}
		details, err := a.svc.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		return a.print(details)
	case "list":
		batches, err := a.svc.ListBatches(ctx)
		if err != nil {
			return err
		}
		return a.print(batches)
	default:
		return usageErr("unknown batch subcommand %q", sub)
	}
}

func runPlan(ctx context.Context, a *app, args []string) error {
	if len(args) > 0 && args[0] == "apply" {
		fs := a.flags("plan apply")
		session := fs.String("session", "", "optimizer session id")
		index := fs.Int("index", 0, "suggestion index within the session")
		start := fs.String("start", "", "planned start (RFC 3339)")
		end := fs.String("end", "", "planned end (RFC 3339)")
		if err := parseFlags(fs, args[1:]); err != nil {
			return err
		}
		plannedStart, plannedEnd, err := parseWindow(*start, *end)
		if err != nil {
			return err
		}
		details, err := a.svc.CreateBatchFromSuggestion(ctx, *session, *index, plannedStart, plannedEnd, a.actor)
		if err != nil {
			return err
		}
		return a.print(details)
	}
	fs := a.flags("plan")
	resources := fs.String("resources", "", "comma separated autoclave resource ids")
	maxUnits := fs.Int("max", 0, "maximum units per suggested batch (0 = unlimited)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	session, err := a.svc.PlanBatches(ctx, core.PlanRequest{ResourceIDs: splitList(*resources), MaxUnitsPerBatch: *maxUnits}, a.actor)
	if err != nil {
		return err
	}
	return a.print(session)
}

func runSessions(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 || args[0] != "purge" {
		return usageErr("sessions purge")
	}
	n, err := a.svc.PurgeExpiredSessions(ctx, a.actor)
	if err != nil {
		return err
	}
	return a.print(map[string]int{"purged": n})
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := a.flags("watch")
	subject := fs.String("subject", "cureline.>", "subject to subscribe to")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if a.publisher == nil {
		return usageErr("watch requires -nats or CURELINE_NATS_URL")
	}
	err := a.publisher.Subscribe(ctx, *subject, func(_ context.Context, subject string, data []byte) error {
		return a.print(struct {
			Subject string          `json:"subject"`
			Payload json.RawMessage `json:"payload"`
		}{Subject: subject, Payload: data})
	}, func(err error) {
		a.logger.Warn("print notification", "error", err)
	})
	if err != nil {
		return err
	}
	a.logger.Info("watching", "subject", *subject)
	<-ctx.Done()
	return nil
}

func parseWindow(start, end string) (time.Time, time.Time, error) {
	var s, e time.Time
	var err error
	if start != "" {
		if s, err = time.Parse(time.RFC3339, start); err != nil {
			return s, e, domain.InvalidInput(fmt.Sprintf("planned start: %v", err))
		}
	}
	if end != "" {
		if e, err = time.Parse(time.RFC3339, end); err != nil {
			return s, e, domain.InvalidInput(fmt.Sprintf("planned end: %v", err))
		}
	}
	return s, e, nil
}

// resolveUnit accepts a unit id or number.
func (a *app) resolveUnit(ctx context.Context, ref string) (domain.ProductionUnit, error) {
	if ref == "" {
		return domain.ProductionUnit{}, domain.InvalidInput("unit is required")
	}
	if unit, err := a.svc.GetUnit(ctx, ref); err == nil {
		return unit, nil
	}
	units, err := a.svc.ListUnits(ctx)
	if err != nil {
		return domain.ProductionUnit{}, err
	}
	for _, u := range units {
		if u.Number == ref {
			return u, nil
		}
	}
	return domain.ProductionUnit{}, domain.NotFound(domain.EntityUnit, ref)
}

func (a *app) resolveUnits(ctx context.Context, refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		unit, err := a.resolveUnit(ctx, ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, unit.ID)
	}
	return ids, nil
}

// resolveDepartment accepts a department id, or a department type naming the
// first active department of that type.
func (a *app) resolveDepartment(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", domain.InvalidInput("department is required")
	}
	depts, err := a.svc.ListDepartments(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range depts {
		if d.ID == ref {
			return d.ID, nil
		}
	}
	t, err := domain.ParseDepartmentType(ref)
	if err != nil {
		return "", domain.NotFound(domain.EntityDepartment, ref)
	}
	for _, d := range depts {
		if d.Type == t && d.Active {
			return d.ID, nil
		}
	}
	return "", domain.NoActiveDepartment(t)
}

// resolveCycle accepts a curing cycle id or code. Empty stays empty.
func (a *app) resolveCycle(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	cycles, err := a.svc.ListCuringCycles(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range cycles {
		if c.ID == ref || strings.EqualFold(c.Code, ref) {
			return c.ID, nil
		}
	}
	return "", domain.NotFound(domain.EntityCuringCycle, ref)
}

// resolveBatch accepts a batch id or number.
func (a *app) resolveBatch(ctx context.Context, ref string) (string, error) {
	n, numErr := strconv.ParseInt(strings.TrimPrefix(ref, "#"), 10, 64)
	if numErr != nil {
		return ref, nil
	}
	batches, err := a.svc.ListBatches(ctx)
	if err != nil {
		return "", err
	}
	for _, b := range batches {
		if b.Number == n || b.ID == ref {
			return b.ID, nil
		}
	}
	return "", domain.NotFound(domain.EntityBatch, ref)
}
