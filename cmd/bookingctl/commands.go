package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/wolfman30/clinic-booking-engine/internal/appointments"
	"github.com/wolfman30/clinic-booking-engine/internal/availability"
)

// Searcher runs availability searches.
type Searcher interface {
	Search(ctx context.Context, req availability.SearchRequest) (*availability.SearchResult, error)
}

// Lifecycle is the subset of the appointment manager the CLI drives.
type Lifecycle interface {
	SearchPatient(ctx context.Context, nationalID string, branchID int) (*appointments.PatientOutcome, error)
	Treatments(ctx context.Context, nationalID string) (*appointments.TreatmentsOutcome, error)
	Cancel(ctx context.Context, req appointments.CancelRequest) (*appointments.CancellationOutcome, error)
}

// Routing exposes backend names and branch routing.
type Routing interface {
	Names() []string
	BranchBackends() map[int]string
}

// Context is passed to every command's Run.
type Context struct {
	Ctx       context.Context
	Out       io.Writer
	Searcher  Searcher
	Lifecycle Lifecycle
	Routing   Routing
}

func (c *Context) print(v any) error {
	enc := json.NewEncoder(c.Out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

type SearchCmd struct {
	Professionals []int  `arg:"" help:"Professional ids."`
	Branch        int    `help:"Branch id." short:"b"`
	From          string `help:"First date to search (YYYY-MM-DD)."`
	Minutes       int    `help:"Required appointment length in minutes." short:"m"`
}

func (c *SearchCmd) Run(ctx *Context) error {
	result, err := ctx.Searcher.Search(ctx.Ctx, availability.SearchRequest{
		ProfessionalIDs: c.Professionals,
		BranchID:        c.Branch,
		StartDate:       c.From,
		RequiredMinutes: c.Minutes,
	})
	if err != nil {
		return err
	}
	if !result.Found {
		fmt.Fprintln(ctx.Out, result.Message)
		return nil
	}
	return ctx.print(result)
}

type PatientCmd struct {
	RUT    string `arg:"" name:"rut" help:"Patient RUT."`
	Branch int    `help:"Restrict the lookup to the branch's backend." short:"b"`
}

func (c *PatientCmd) Run(ctx *Context) error {
	outcome, err := ctx.Lifecycle.SearchPatient(ctx.Ctx, c.RUT, c.Branch)
	if err != nil {
		return err
	}
	return ctx.print(outcome)
}

type TreatmentsCmd struct {
	RUT string `arg:"" name:"rut" help:"Patient RUT."`
}

func (c *TreatmentsCmd) Run(ctx *Context) error {
	outcome, err := ctx.Lifecycle.Treatments(ctx.Ctx, c.RUT)
	if err != nil {
		return err
	}
	return ctx.print(outcome)
}

type CancelCmd struct {
	ID  int    `help:"Appointment id." xor:"target"`
	RUT string `name:"rut" help:"Cancel the patient's earliest future appointment." xor:"target"`
}

func (c *CancelCmd) Run(ctx *Context) error {
	if c.ID == 0 && c.RUT == "" {
		return errors.New("one of --id or --rut is required")
	}
	outcome, err := ctx.Lifecycle.Cancel(ctx.Ctx, appointments.CancelRequest{AppointmentID: c.ID, NationalID: c.RUT})
	if err != nil {
		return err
	}
	if !outcome.Cancelled {
		fmt.Fprintln(ctx.Out, outcome.Message)
		return nil
	}
	return ctx.print(outcome)
}

type BackendsCmd struct{}

func (c *BackendsCmd) Run(ctx *Context) error {
	for _, name := range ctx.Routing.Names() {
		fmt.Fprintf(ctx.Out, "backend  %s\n", name)
	}
	branches := ctx.Routing.BranchBackends()
	ids := make([]int, 0, len(branches))
	for id := range branches {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fmt.Fprintf(ctx.Out, "branch   %d -> %s\n", id, branches[id])
	}
	return nil
}
